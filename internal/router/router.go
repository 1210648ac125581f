package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vmhowley/DigitBill-sub000/internal/config"
	"github.com/vmhowley/DigitBill-sub000/internal/dgii"
	"github.com/vmhowley/DigitBill-sub000/internal/ecf"
	"github.com/vmhowley/DigitBill-sub000/internal/handler"
	"github.com/vmhowley/DigitBill-sub000/internal/infra"
	"github.com/vmhowley/DigitBill-sub000/internal/middleware"
	"github.com/vmhowley/DigitBill-sub000/internal/model"
	"github.com/vmhowley/DigitBill-sub000/internal/repository"
	"github.com/vmhowley/DigitBill-sub000/internal/service"
	"github.com/vmhowley/DigitBill-sub000/internal/sign"
	"github.com/vmhowley/DigitBill-sub000/internal/worker"
)

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, cb *infra.CircuitBreaker) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(1000, time.Minute)) // 1000 req/min per IP

	// ── Domain service ───────────────────────────────────────────────────────
	issuanceSvc := BuildIssuanceService(cfg, db)

	// Worker dispatcher — injected into handlers that enqueue async jobs
	dispatcher := worker.NewDispatcher(rdb)

	// ── Handlers ─────────────────────────────────────────────────────────────
	issuanceH := handler.NewIssuanceHandler(issuanceSvc, dispatcher)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb, cb))

	// Protected routes
	jwtMW := middleware.JWTAuth(cfg.JWTSecret)
	v1 := r.Group("/v1", jwtMW)
	{
		invoices := v1.Group("/invoices")
		{
			invoices.POST("/:id/issue", middleware.RequireRole("facturador", "administrador"), issuanceH.Issue)
			invoices.POST("/:id/send", middleware.RequireRole("facturador", "administrador"), issuanceH.Send)
			invoices.GET("/:id/delivery", middleware.RequireRole("facturador", "supervisor", "administrador"), issuanceH.Delivery)
			invoices.DELETE("/:id", middleware.RequireRole("supervisor", "administrador"), issuanceH.Void)
		}
	}

	return r
}

// BuildIssuanceService assembles the issuance orchestrator and its whole
// dependency chain. The worker pool and the HTTP layer each call this;
// both instances share nothing but the database.
func BuildIssuanceService(cfg *config.Config, db *gorm.DB) service.IssuanceService {
	txRunner := repository.NewTxRunner(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db)
	profileRepo := repository.NewFiscalProfileRepository(db)

	clock := clockwork.NewRealClock()
	signer := sign.NewSigner()

	// One DGII client per environment; each keeps its own token cache.
	testClient := dgii.NewClient(cfg.DGIITestURL, signer, clock)
	prodClient := dgii.NewClient(cfg.DGIIProdURL, signer, clock)
	authority := func(env string) service.AuthorityClient {
		if env == model.EnvProduction {
			return prodClient
		}
		return testClient
	}

	return service.NewIssuanceService(
		txRunner, invoiceRepo, sequenceRepo, profileRepo,
		ecf.NewComposer(), signer, authority, clock,
	)
}
