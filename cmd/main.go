package main

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/ofirwie/rechnung-meister/internal/handler"
	"github.com/ofirwie/rechnung-meister/internal/invoice"
	"github.com/ofirwie/rechnung-meister/internal/middleware"
	"github.com/ofirwie/rechnung-meister/pkg/config"
	"github.com/ofirwie/rechnung-meister/pkg/database"
	"github.com/ofirwie/rechnung-meister/pkg/jwtutil"
	"github.com/ofirwie/rechnung-meister/pkg/logger"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting invoicing service...", zap.String("environment", cfg.Server.Env))

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utility initialized")

	// Initialize Prometheus metrics
	prometheus.InitMetrics(cfg)
	log.Info("Prometheus metrics initialized")

	// Wire the lifecycle core (resolver, allocator, guard, audit recorder)
	handler.Init(cfg)

	// Initialize Echo framework
	e := echo.New()
	e.Validator = handler.NewRequestValidator()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// Authentication routes - these don't belong under /api since they're for getting access to the API
	auth := e.Group("/auth")
	auth.POST("/login", handler.Login)
	auth.POST("/register", handler.Register)

	// API routes - all require authentication
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware)

	// User profile
	users := api.Group("/users")
	users.GET("/profile", handler.GetProfile)

	// Company selection - after login but before accessing company-scoped resources
	companyAuth := api.Group("/company-auth")
	companyAuth.POST("/switch", handler.SwitchCompany)

	// Company management
	companies := api.Group("/companies")
	companies.POST("", handler.CreateCompany)
	companies.GET("", handler.ListCompanies)
	companies.GET("/:id", handler.GetCompany)
	companies.PATCH("/:id", handler.UpdateCompany)
	companies.DELETE("/:id", handler.DeactivateCompany)

	// Membership management - requires company context
	companyUsers := api.Group("/company-users")
	companyUsers.Use(middleware.RequireCompanyContext)
	companyUsers.POST("", handler.InviteMember)
	companyUsers.PATCH("/:id", handler.UpdateMember)
	companyUsers.DELETE("/:company_id/:user_id", handler.DeactivateMember)

	// Client registry - requires company context
	clients := api.Group("/clients")
	clients.Use(middleware.RequireCompanyContext)
	clients.POST("", handler.CreateClient)
	clients.GET("", handler.ListClients)
	clients.GET("/:id", handler.GetClient)
	clients.PATCH("/:id", handler.UpdateClient)
	clients.DELETE("/:id", handler.DeleteClient)

	// Invoice lifecycle - requires company context
	invoices := api.Group("/invoices")
	invoices.Use(middleware.RequireCompanyContext)
	invoices.POST("", handler.CreateInvoice)
	invoices.GET("", handler.ListInvoices)
	invoices.GET("/:id", handler.GetInvoice)
	invoices.PATCH("/:id", handler.UpdateInvoice)
	invoices.DELETE("/:id", handler.DeleteInvoice)
	invoices.POST("/:id/submit", handler.TransitionInvoice(invoice.StatusPendingApproval))
	invoices.POST("/:id/approve", handler.TransitionInvoice(invoice.StatusApproved))
	invoices.POST("/:id/reject", handler.TransitionInvoice(invoice.StatusDraft))
	invoices.POST("/:id/issue", handler.TransitionInvoice(invoice.StatusIssued))
	invoices.POST("/:id/revert", handler.TransitionInvoice(invoice.StatusDraft))
	invoices.POST("/:id/cancel", handler.TransitionInvoice(invoice.StatusCancelled))

	// Audit trail - requires company context
	auditGroup := api.Group("/audit")
	auditGroup.Use(middleware.RequireCompanyContext)
	auditGroup.GET("", handler.ListAuditEntries)

	// Get server port from configuration
	port := cfg.Server.Port

	// Start server
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
