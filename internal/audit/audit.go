// Package audit porównuje katalog w content store ze źródłem i zapisuje
// znalezione problemy w sync_issues (pełny rebuild co przebieg).
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bartek5186/saunasync/internal/catalog"
	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/source"
)

const (
	ReasonDuplicateExternalID = "duplicate_external_id_store"
	ReasonMissingExternalID   = "missing_external_id_store"
	ReasonMissingInStore      = "missing_in_store"
	ReasonNotInSource         = "not_in_source"
)

type Issue struct {
	ExternalID  string
	Reason      string
	DocumentIDs []string
	Details     string
}

// ProductLister: pełne rekordy produktów z content store.
type ProductLister interface {
	Products(ctx context.Context) ([]catalog.Product, error)
}

type Auditor struct {
	log   zerolog.Logger
	store ProductLister
	src   source.Reader // opcjonalne; bez niego brak porównania ze źródłem
	db    *gorm.DB
}

func New(log zerolog.Logger, store ProductLister, src source.Reader, gdb *gorm.DB) *Auditor {
	return &Auditor{log: log, store: store, src: src, db: gdb}
}

// Find liczy problemy. sourceIDs == nil oznacza "źródło nieznane":
// wtedy sprawdzane są tylko duplikaty i brak zewnętrznego id.
func Find(products []catalog.Product, sourceIDs []string) []Issue {
	var issues []Issue

	byExt := make(map[string][]string, len(products))
	for _, p := range products {
		ext := strings.TrimSpace(p.GHLProductID)
		if ext == "" {
			issues = append(issues, Issue{
				Reason:      ReasonMissingExternalID,
				DocumentIDs: []string{p.ID},
				Details:     fmt.Sprintf("Produkt %q (%s) nie ma ghlProductId", p.Name, p.ID),
			})
			continue
		}
		byExt[ext] = append(byExt[ext], p.ID)
	}

	exts := make([]string, 0, len(byExt))
	for ext := range byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		if ids := byExt[ext]; len(ids) > 1 {
			sort.Strings(ids)
			issues = append(issues, Issue{
				ExternalID:  ext,
				Reason:      ReasonDuplicateExternalID,
				DocumentIDs: ids,
				Details:     fmt.Sprintf("ghlProductId=%s występuje %d× w content store", ext, len(ids)),
			})
		}
	}

	if sourceIDs == nil {
		return issues
	}

	inSource := make(map[string]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		inSource[id] = struct{}{}
	}
	missing := append([]string(nil), sourceIDs...)
	sort.Strings(missing)
	for i, id := range missing {
		if i > 0 && missing[i-1] == id {
			continue
		}
		if _, ok := byExt[id]; !ok {
			issues = append(issues, Issue{
				ExternalID: id,
				Reason:     ReasonMissingInStore,
				Details:    fmt.Sprintf("Produkt %s jest w źródle, ale nie ma go w content store", id),
			})
		}
	}
	for _, ext := range exts {
		if _, ok := inSource[ext]; !ok {
			issues = append(issues, Issue{
				ExternalID:  ext,
				Reason:      ReasonNotInSource,
				DocumentIDs: byExt[ext],
				Details:     fmt.Sprintf("Produkt %s jest w content store, ale nie ma go w źródle", ext),
			})
		}
	}
	return issues
}

// Run pobiera stan content store (i źródła, gdy sourceIDs == nil), liczy
// problemy i przebudowuje sync_issues. Zwraca liczbę problemów.
func (a *Auditor) Run(ctx context.Context, sourceIDs []string) (int, error) {
	products, err := a.store.Products(ctx)
	if err != nil {
		return 0, fmt.Errorf("audit: store: %w", err)
	}
	if sourceIDs == nil && a.src != nil {
		sp, err := a.src.Products(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("audit: źródło niedostępne, sprawdzam tylko content store")
		} else {
			sourceIDs = make([]string, 0, len(sp))
			for _, p := range sp {
				if p.ExternalID != "" {
					sourceIDs = append(sourceIDs, p.ExternalID)
				}
			}
		}
	}

	issues := Find(products, sourceIDs)
	if err := Rebuild(ctx, a.db, issues); err != nil {
		return 0, err
	}

	counts := map[string]int{}
	for _, is := range issues {
		counts[is.Reason]++
	}
	a.log.Info().
		Int("store_items", len(products)).
		Int("source_items", len(sourceIDs)).
		Int("duplicates", counts[ReasonDuplicateExternalID]).
		Int("missing_external_id", counts[ReasonMissingExternalID]).
		Int("missing_in_store", counts[ReasonMissingInStore]).
		Int("not_in_source", counts[ReasonNotInSource]).
		Msg("audit finished")
	return len(issues), nil
}

// Rebuild kasuje sync_issues i zapisuje issues od zera w jednej transakcji.
func Rebuild(ctx context.Context, gdb *gorm.DB, issues []Issue) error {
	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&db.SyncIssue{}).Error; err != nil {
			return fmt.Errorf("błąd czyszczenia sync_issues: %w", err)
		}
		for _, is := range issues {
			if err := saveIssue(tx, is); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveIssue(tx *gorm.DB, is Issue) error {
	ids := is.DocumentIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, _ := json.Marshal(ids)
	row := db.SyncIssue{
		ExternalID:  is.ExternalID,
		Reason:      is.Reason,
		DocumentIDs: string(idsJSON),
		Details:     is.Details,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "external_id"},
			{Name: "reason"},
			{Name: "document_ids"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"details":    is.Details,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saveIssue %s/%s: %w", is.Reason, is.ExternalID, err)
	}
	return nil
}
