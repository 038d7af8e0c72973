package server

import (
	"context"
	"net/http"
	"time"

	"github.com/casaops/rentledger/internal/clock"
	"github.com/casaops/rentledger/internal/config"
	"github.com/casaops/rentledger/internal/contact"
	contactdomain "github.com/casaops/rentledger/internal/contact/domain"
	"github.com/casaops/rentledger/internal/contract"
	contractdomain "github.com/casaops/rentledger/internal/contract/domain"
	"github.com/casaops/rentledger/internal/insurance"
	insurancedomain "github.com/casaops/rentledger/internal/insurance/domain"
	"github.com/casaops/rentledger/internal/invoice"
	invoicedomain "github.com/casaops/rentledger/internal/invoice/domain"
	"github.com/casaops/rentledger/internal/observability"
	obsmetrics "github.com/casaops/rentledger/internal/observability/metrics"
	obstracing "github.com/casaops/rentledger/internal/observability/tracing"
	"github.com/casaops/rentledger/internal/payment"
	paymentdomain "github.com/casaops/rentledger/internal/payment/domain"
	"github.com/casaops/rentledger/internal/property"
	propertydomain "github.com/casaops/rentledger/internal/property/domain"
	"github.com/casaops/rentledger/internal/providers"
	"github.com/casaops/rentledger/internal/providers/pdf"
	"github.com/casaops/rentledger/internal/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	observability.Module,
	providers.Module,
	contact.Module,
	property.Module,
	insurance.Module,
	contract.Module,
	invoice.Module,
	payment.Module,
	scheduler.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggerMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", obsmetrics.Handler())

	return r
}

func registerGin(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(log, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	clk    clock.Clock

	contactSvc   contactdomain.Service
	propertySvc  propertydomain.Service
	insuranceSvc insurancedomain.Service
	contractSvc  contractdomain.Service
	invoiceSvc   invoicedomain.Service
	paymentSvc   paymentdomain.Service
	pdfProvider  pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Cfg config.Config
	DB  *gorm.DB
	Clk clock.Clock

	ContactSvc   contactdomain.Service
	PropertySvc  propertydomain.Service
	InsuranceSvc insurancedomain.Service
	ContractSvc  contractdomain.Service
	InvoiceSvc   invoicedomain.Service
	PaymentSvc   paymentdomain.Service
	PDFProvider  pdf.Provider
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		clk:          p.Clk,
		contactSvc:   p.ContactSvc,
		propertySvc:  p.PropertySvc,
		insuranceSvc: p.InsuranceSvc,
		contractSvc:  p.ContractSvc,
		invoiceSvc:   p.InvoiceSvc,
		paymentSvc:   p.PaymentSvc,
		pdfProvider:  p.PDFProvider,
	}

	svc.registerV1Routes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/v1", OrgContextMiddleware(s.cfg))

	// -------- Contacts --------
	v1.POST("/contacts", s.CreateContact)
	v1.GET("/contacts", s.ListContacts)
	v1.GET("/contacts/:id", s.GetContactByID)
	v1.DELETE("/contacts/:id", s.DeleteContact)

	// -------- Properties --------
	v1.POST("/properties", s.CreateProperty)
	v1.GET("/properties", s.ListProperties)
	v1.GET("/properties/:id", s.GetPropertyByID)
	v1.DELETE("/properties/:id", s.DeleteProperty)

	// -------- Insurance --------
	v1.POST("/insurance-policies", s.CreateInsurancePolicy)
	v1.GET("/insurance-policies", s.ListInsurancePolicies)
	v1.GET("/insurance-policies/:id", s.GetInsurancePolicyByID)
	v1.DELETE("/insurance-policies/:id", s.DeleteInsurancePolicy)

	// -------- Contracts --------
	v1.POST("/contracts", s.CreateContract)
	v1.GET("/contracts", s.ListContracts)
	v1.GET("/contracts/:id", s.GetContractByID)
	v1.PATCH("/contracts/:id", s.UpdateContract)
	v1.DELETE("/contracts/:id", s.DeleteContract)
	v1.POST("/contracts/:id/activate", s.ActivateContract)
	v1.POST("/contracts/:id/close", s.CloseContract)

	// -------- Invoices --------
	v1.POST("/invoices", s.CreateInvoice)
	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/invoices/:id", s.GetInvoiceByID)
	v1.DELETE("/invoices/:id", s.DeleteInvoice)
	v1.POST("/invoices/:id/issue", s.IssueInvoice)
	v1.POST("/invoices/:id/recalculate", s.RecalculateInvoice)
	v1.GET("/invoices/:id/status", s.ResolveInvoiceStatus)
	v1.POST("/invoices/:id/status", s.PersistInvoiceStatus)
	v1.GET("/invoices/:id/pdf", s.DownloadInvoicePDF)
	v1.POST("/invoices/:id/charges", s.AddInvoiceCharge)
	v1.GET("/invoices/:id/charges", s.ListInvoiceCharges)
	v1.DELETE("/invoices/:id/charges/:chargeId", s.RemoveInvoiceCharge)

	// -------- Payments --------
	v1.POST("/invoices/:id/payments", s.RecordPayment)
	v1.GET("/payments", s.ListPayments)
	v1.GET("/payments/:id", s.GetPaymentByID)
	v1.PATCH("/payments/:id", s.RevisePayment)
	v1.DELETE("/payments/:id", s.ReversePayment)
	v1.GET("/payments/:id/receipt.pdf", s.DownloadPaymentReceipt)

	// -------- Reports --------
	v1.GET("/reports/aging", s.AgingReport)
}
