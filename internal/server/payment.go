package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/money"
	paymentdomain "github.com/casaops/rentledger/internal/payment/domain"
	"github.com/casaops/rentledger/internal/providers/pdf"
	"github.com/casaops/rentledger/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

func (s *Server) RecordPayment(c *gin.Context) {
	invoiceID := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(invoiceID); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req paymentdomain.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}
	req.InvoiceID = invoiceID

	if req.PaymentDate.IsZero() {
		req.PaymentDate = s.clk.Now()
	}

	item, err := s.paymentSvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ListPayments(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("query", "invalid_query", "invalid query parameters"))
		return
	}

	req := paymentdomain.ListPaymentRequest{Pagination: page}

	invoiceID, err := queryID(c, "invoice_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.InvoiceID = invoiceID

	if raw := strings.TrimSpace(c.Query("method")); raw != "" {
		method := paymentdomain.PaymentMethod(strings.ToUpper(raw))
		req.Method = &method
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Payments, "page_info": resp.PageInfo})
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.paymentSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RevisePayment(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req paymentdomain.RevisePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}

	item, err := s.paymentSvc.Revise(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ReversePayment(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.paymentSvc.Reverse(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) DownloadPaymentReceipt(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	pay, err := s.paymentSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoiceData, err := s.buildInvoicePDFData(c, pay.InvoiceID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := pdf.ReceiptData{
		InvoiceData: invoiceData,
		ReceiptRef:  pay.ReceiptRef,
		DatePaid:    pay.PaymentDate.Format("2006-01-02"),
		AmountPaid:  money.Format(pay.Amount),
		Method:      string(pay.Method),
	}

	reader, err := s.pdfProvider.GenerateReceipt(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="receipt-`+pay.ReceiptRef+`.pdf"`)
	c.Header("Content-Type", "application/pdf")
	if _, err := io.Copy(c.Writer, reader); err != nil {
		AbortWithError(c, err)
		return
	}
}
