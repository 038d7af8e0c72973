package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	invoicedomain "github.com/casaops/rentledger/internal/invoice/domain"
	"github.com/casaops/rentledger/internal/money"
	"github.com/casaops/rentledger/internal/orgcontext"
	"github.com/casaops/rentledger/internal/providers/pdf"
	"github.com/casaops/rentledger/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}

	item, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("query", "invalid_query", "invalid query parameters"))
		return
	}

	req := invoicedomain.ListInvoiceRequest{Pagination: page}

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := billing.InvoiceStatus(strings.ToUpper(raw))
		req.Status = &status
	}

	contractID, err := queryID(c, "contract_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.ContractID = contractID

	tenantID, err := queryID(c, "tenant_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.TenantID = tenantID

	dueFrom, err := queryDate(c, "due_from")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.DueFrom = dueFrom

	dueTo, err := queryDate(c, "due_to")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.DueTo = dueTo

	totalMin, err := queryInt64(c, "total_min")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.TotalMin = totalMin

	totalMax, err := queryInt64(c, "total_max")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.TotalMax = totalMax

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.invoiceSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) IssueInvoice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.invoiceSvc.Issue(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RecalculateInvoice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	resp, err := s.invoiceSvc.Recalculate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResolveInvoiceStatus(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	asOf := s.clk.Now()
	if parsed, err := queryDate(c, "as_of"); err != nil {
		AbortWithError(c, err)
		return
	} else if parsed != nil {
		asOf = *parsed
	}

	persist, err := queryBool(c, "persist")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.invoiceSvc.ResolveStatus(c.Request.Context(), id, asOf, persist)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"status":    status,
		"as_of":     asOf,
		"persisted": persist,
	}})
}

// PersistInvoiceStatus re-derives the status as of now and writes it
// back.
func (s *Server) PersistInvoiceStatus(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	asOf := s.clk.Now()
	if parsed, err := queryDate(c, "as_of"); err != nil {
		AbortWithError(c, err)
		return
	} else if parsed != nil {
		asOf = *parsed
	}

	status, err := s.invoiceSvc.ResolveStatus(c.Request.Context(), id, asOf, true)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"status": status,
		"as_of":  asOf,
	}})
}

func (s *Server) AddInvoiceCharge(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var charge invoicedomain.ChargeInput
	if err := c.ShouldBindJSON(&charge); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}

	item, err := s.invoiceSvc.AddCharge(c.Request.Context(), id, charge)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ListInvoiceCharges(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	charges, err := s.invoiceSvc.ListCharges(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": charges})
}

func (s *Server) RemoveInvoiceCharge(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	chargeID := strings.TrimSpace(c.Param("chargeId"))
	if _, err := snowflake.ParseString(chargeID); err != nil {
		AbortWithError(c, newValidationError("chargeId", "invalid_id", "invalid id"))
		return
	}

	if err := s.invoiceSvc.RemoveCharge(c.Request.Context(), chargeID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	data, err := s.buildInvoicePDFData(c, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reader, err := s.pdfProvider.GenerateInvoice(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="invoice-`+id+`.pdf"`)
	c.Header("Content-Type", "application/pdf")
	if _, err := io.Copy(c.Writer, reader); err != nil {
		AbortWithError(c, err)
		return
	}
}

func (s *Server) buildInvoicePDFData(c *gin.Context, invoiceID string) (pdf.InvoiceData, error) {
	ctx := c.Request.Context()

	inv, err := s.invoiceSvc.GetByID(ctx, invoiceID)
	if err != nil {
		return pdf.InvoiceData{}, err
	}

	charges, err := s.invoiceSvc.ListCharges(ctx, invoiceID)
	if err != nil {
		return pdf.InvoiceData{}, err
	}

	data := pdf.InvoiceData{
		OrgName:    s.orgName(c),
		IssueDate:  inv.IssueDate.Format("2006-01-02"),
		DueDate:    inv.DueDate.Format("2006-01-02"),
		Subtotal:   money.Format(inv.SubtotalAmount),
		Tax:        money.Format(inv.TaxAmount),
		LateFee:    money.Format(inv.LateFeeAmount),
		Total:      money.Format(inv.TotalAmount),
		AmountPaid: money.Format(inv.AmountPaid),
		BalanceDue: money.Format(inv.BalanceDue()),
	}
	if inv.InvoiceNumber != nil {
		data.InvoiceNumber = *inv.InvoiceNumber
	}

	for _, charge := range charges {
		data.Items = append(data.Items, pdf.InvoiceItem{
			Description: charge.Description,
			Amount:      money.Format(charge.Amount),
		})
	}

	if prop, err := s.propertySvc.GetByID(ctx, inv.PropertyID.String()); err == nil {
		data.PropertyName = prop.Name
	}
	if tenant, err := s.contactSvc.GetByID(ctx, inv.TenantContactID.String()); err == nil {
		data.TenantName = tenant.Name
	}

	return data, nil
}

func (s *Server) orgName(c *gin.Context) string {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		return ""
	}

	var name string
	if err := s.db.WithContext(c.Request.Context()).
		Raw(`SELECT name FROM organizations WHERE id = ?`, orgID).
		Scan(&name).Error; err != nil {
		return ""
	}
	return name
}
