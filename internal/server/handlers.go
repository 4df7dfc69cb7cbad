package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bartek5186/saunasync/internal/catalog"
	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/integrations/sanity"
	"github.com/bartek5186/saunasync/internal/observability"
	"github.com/bartek5186/saunasync/internal/resync"
)

const (
	headerFallback      = "X-Catalog-Fallback"
	headerWebhookSecret = "X-Webhook-Secret"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listProducts(c *gin.Context) {
	ctx := c.Request.Context()
	if s.deps.Catalog != nil {
		products, err := s.deps.Catalog.Products(ctx)
		if err == nil {
			c.JSON(http.StatusOK, products)
			return
		}
		s.log.Warn().Err(err).Msg("katalog: content store niedostępny, używam fallbacku")
	}

	products := s.mirrorProducts(ctx)
	if len(products) == 0 {
		products = FallbackProducts()
	}
	observability.CatalogFallbackTotal.Inc()
	c.Header(headerFallback, "true")
	c.JSON(http.StatusOK, products)
}

func (s *Server) getProduct(c *gin.Context) {
	ctx := c.Request.Context()
	slug := c.Param("slug")

	if s.deps.Catalog != nil {
		p, err := s.deps.Catalog.ProductBySlug(ctx, slug)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, p)
			return
		case errors.Is(err, sanity.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		s.log.Warn().Err(err).Str("slug", slug).Msg("katalog: content store niedostępny, używam fallbacku")
	}

	products := s.mirrorProducts(ctx)
	if len(products) == 0 {
		products = FallbackProducts()
	}
	c.Header(headerFallback, "true")
	for _, p := range products {
		if p.Slug.Current == slug {
			observability.CatalogFallbackTotal.Inc()
			c.JSON(http.StatusOK, p)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
}

// mirrorProducts czyta ostatnie znane rekordy z product_snapshots.
func (s *Server) mirrorProducts(ctx context.Context) []catalog.Product {
	if s.deps.DB == nil {
		return nil
	}
	rows, err := db.LiveSnapshots(ctx, s.deps.DB)
	if err != nil {
		s.log.Warn().Err(err).Msg("katalog: odczyt mirrora nieudany")
		return nil
	}
	out := make([]catalog.Product, 0, len(rows))
	for _, r := range rows {
		var p catalog.Product
		if err := json.Unmarshal([]byte(r.RawJSON), &p); err != nil {
			s.log.Debug().Err(err).Str("id", r.DocumentID).Msg("katalog: uszkodzony snapshot")
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Server) syncProducts(c *gin.Context) {
	if s.cfg.WebhookSecret == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "webhook secret not configured"})
		return
	}
	got := c.GetHeader(headerWebhookSecret)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}
	if s.deps.Resync == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "resync not configured"})
		return
	}

	// zerwane połączenie nie może przerwać kasowania w połowie
	ctx := context.WithoutCancel(c.Request.Context())
	rep, err := s.deps.Resync.Run(ctx, "webhook")
	switch {
	case errors.Is(err, resync.ErrLeaseHeld):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "report": rep})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
	default:
		c.JSON(http.StatusOK, rep)
	}
}

func (s *Server) listRuns(c *gin.Context) {
	if s.deps.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > 200 {
		limit = 200
	}
	runs, err := db.RecentRuns(c.Request.Context(), s.deps.DB, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) listIssues(c *gin.Context) {
	if s.deps.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}
	issues, err := db.ListIssues(c.Request.Context(), s.deps.DB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, issues)
}

type createPriceRequest struct {
	ProductID  string `json:"productId"`  // id u operatora płatności
	ExternalID string `json:"externalId"` // albo ghlProductId; produkt zakładany, jeśli go nie ma
	Name       string `json:"name"`       // nazwa dla nowego produktu, domyślnie externalId
	Amount     int64  `json:"amount" binding:"required,gt=0"`
	Currency   string `json:"currency"`
	Variant    string `json:"variant"`
}

func (s *Server) createPrice(c *gin.Context) {
	if s.deps.Prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider not configured"})
		return
	}
	var req createPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	ext := strings.TrimSpace(req.ExternalID)
	if productID == "" && ext == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "productId or externalId is required"})
		return
	}
	if productID == "" {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = ext
		}
		id, err := s.deps.Prices.EnsureProduct(c.Request.Context(), catalog.Product{
			ID:           catalog.DocumentID(ext),
			GHLProductID: ext,
			Name:         name,
		})
		if err != nil {
			s.log.Error().Err(err).Str("external_id", ext).Msg("ceny: produkt u operatora nieudany")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		productID = id
	}

	pr, err := s.deps.Prices.CreatePrice(c.Request.Context(), productID, req.Amount, req.Currency, req.Variant)
	if err != nil {
		s.log.Error().Err(err).Str("product", productID).Msg("ceny: zakładanie nieudane")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"priceId":   pr.ID,
		"productId": productID,
		"amount":    pr.Amount,
		"currency":  pr.Currency,
		"variant":   pr.Variant,
	})
}

// adminCheck nigdy nie zwraca błędu: brak tokenu, wiersza czy bazy to isAdmin=false.
func (s *Server) adminCheck(c *gin.Context) {
	uid := c.GetString(ctxUserID)
	ok := uid != "" && s.deps.Admin != nil && s.deps.Admin.IsAdmin(c.Request.Context(), uid)
	c.JSON(http.StatusOK, gin.H{"isAdmin": ok})
}
