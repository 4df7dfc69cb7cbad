// Package server wystawia HTTP API katalogu: odczyt produktów, webhook resync,
// historię przebiegów, ceny i sprawdzenie uprawnień.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/bartek5186/saunasync/internal/catalog"
	conf "github.com/bartek5186/saunasync/internal/config"
	"github.com/bartek5186/saunasync/internal/observability"
	"github.com/bartek5186/saunasync/internal/resync"
)

type Catalog interface {
	Products(ctx context.Context) ([]catalog.Product, error)
	ProductBySlug(ctx context.Context, slug string) (*catalog.Product, error)
}

type Resyncer interface {
	Run(ctx context.Context, triggeredBy string) (*resync.Report, error)
}

type PriceCreator interface {
	EnsureProduct(ctx context.Context, p catalog.Product) (string, error)
	CreatePrice(ctx context.Context, productID string, amount int64, currency, variant string) (*catalog.Price, error)
}

type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) bool
}

// Deps: wszystko poza Catalog jest opcjonalne; brak zależności = 503 na danej ścieżce.
type Deps struct {
	Catalog Catalog
	Resync  Resyncer
	Prices  PriceCreator
	Admin   AdminChecker
	DB      *gorm.DB // mirror, sync_runs, sync_issues
}

type Server struct {
	log  zerolog.Logger
	cfg  conf.HTTPConfig
	deps Deps
	srv  *http.Server
}

func New(log zerolog.Logger, cfg conf.HTTPConfig, deps Deps) *Server {
	return &Server{log: log, cfg: cfg, deps: deps}
}

// Router buduje silnik gin; osobno od Start, żeby testy mogły go użyć z httptest.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(s.log))
	r.Use(authMiddleware(s.log, s.cfg.JWTSecret, s.publicRoutes()))

	r.GET("/health", s.health)
	observability.Register()
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	api := r.Group("/api")
	api.GET("/products", s.listProducts)
	api.GET("/products/:slug", s.getProduct)
	api.POST("/sync/products", s.syncProducts)
	api.GET("/sync/runs", s.listRuns)
	api.GET("/sync/issues", s.listIssues)
	api.POST("/prices", s.requireAdmin(), s.createPrice)
	api.GET("/admin/check", s.adminCheck)
	return r
}

func (s *Server) publicRoutes() []string {
	// webhook ma własny sekret; admin/check odpowiada false bez tokenu
	out := []string{"/health", "/metrics", "/api/products", "/api/sync/products", "/api/admin/check"}
	return append(out, s.cfg.PublicRoutes...)
}

// Start blokuje do zatrzymania kontekstu albo błędu listenera.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Addr == "" {
		return errors.New("server: http.addr is empty")
	}
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP: nasłuch")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.srv.Shutdown(shCtx)
		s.log.Info().Msg("HTTP: zatrzymany")
		return err
	}
}
