// internal/integrations/feed/feed.go
package feed

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
	"gorm.io/gorm"

	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/integrations"
)

type Config struct {
	WatchDir string `json:"watch_dir"` // np. ~/saunasync/feeds
	PollSec  int    `json:"poll_sec"`  // 0 = 30s
}

// Importer pilnuje watch_dir i wrzuca nowe pliki feedu do st_products.
type Importer struct {
	log zerolog.Logger
	cfg Config
	db  *gorm.DB

	ctx    context.Context
	cancel context.CancelFunc
}

func NewImporter(log zerolog.Logger, cfg Config, gdb *gorm.DB) *Importer {
	return &Importer{log: log, cfg: cfg, db: gdb}
}

// <product> w feedzie
type xmlVariant struct {
	Name  string `xml:"name"`
	SKU   string `xml:"sku"`
	Price string `xml:"price"`
	Stock string `xml:"stock"`
}

type xmlProduct struct {
	ID          string       `xml:"id"`
	Name        string       `xml:"name"`
	Description string       `xml:"description"` // HTML, zwykle w CDATA
	Category    string       `xml:"category"`
	Currency    string       `xml:"currency"`
	Price       string       `xml:"price"` // "4999,00" albo "4999.00"
	SalePrice   string       `xml:"sale_price"`
	Stock       string       `xml:"stock"`
	Available   string       `xml:"available"` // "Y"/"N"
	Images      []string     `xml:"images>image"`
	Features    []string     `xml:"features>feature"`
	Variants    []xmlVariant `xml:"variants>variant"`
}

func (i *Importer) Name() string { return "feed" }

func (i *Importer) Start(ctx context.Context) error {
	i.ctx, i.cancel = context.WithCancel(ctx)
	i.log.Info().Str("integration", i.Name()).Msg("start")

	dir := expandHome(i.cfg.WatchDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("feed: watch_dir: %w", err)
	}
	ticker := time.NewTicker(i.interval())
	defer ticker.Stop()

	// pierwszy przebieg
	i.ScanOnce(i.ctx)

	for {
		select {
		case <-i.ctx.Done():
			i.log.Info().Str("integration", i.Name()).Msg("stop")
			return nil
		case <-ticker.C:
			i.ScanOnce(i.ctx)
		}
	}
}

func (i *Importer) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
}

func (i *Importer) interval() time.Duration {
	if i.cfg.PollSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(i.cfg.PollSec) * time.Second
}

// ScanOnce przetwarza nowe (albo wcześniej nieudane) pliki *.xml z watch_dir.
// Zwraca liczbę plików przetworzonych OK.
func (i *Importer) ScanOnce(ctx context.Context) int {
	dir := expandHome(i.cfg.WatchDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		i.log.Error().Err(err).Str("dir", dir).Msg("nie mogę odczytać katalogu")
		return 0
	}

	done := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return done
		}
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".xml") {
			continue
		}
		full := filepath.Join(dir, name)

		importID, already, err := i.registerFile(ctx, full, name)
		if err != nil {
			i.log.Error().Err(err).Str("file", name).Msg("rejestracja pliku nieudana")
			continue
		}
		if already {
			var rec db.ImportFile
			if err := i.db.WithContext(ctx).Where("import_id = ?", importID).Take(&rec).Error; err == nil && rec.Status == db.ImportDone {
				i.log.Debug().Str("file", name).Msg("plik już był i DONE — pomijam")
				continue
			}
			i.log.Warn().Str("file", name).Uint("import_id", importID).Msg("plik istnieje, ale nie DONE — ponawiam przetwarzanie")
		}

		n, err := i.processFile(ctx, importID, full)
		if err != nil {
			i.log.Error().Err(err).Str("file", name).Uint("import_id", importID).Msg("błąd przetwarzania pliku")
			_ = i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", importID).
				Updates(map[string]any{"status": db.ImportError, "last_error": err.Error()})
			continue
		}

		now := time.Now().UTC()
		_ = i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", importID).
			Updates(map[string]any{"status": db.ImportDone, "processed_at": now, "products": n, "last_error": ""})
		i.log.Info().Str("file", name).Uint("import_id", importID).Int("products", n).Msg("przetworzono OK")
		done++
	}
	return done
}

// registerFile: idempotencja po SHA-256 albo nazwie pliku.
func (i *Importer) registerFile(ctx context.Context, fullPath, name string) (uint, bool, error) {
	fi, err := os.Stat(fullPath)
	if err != nil {
		return 0, false, err
	}
	h, err := fileSHA256(fullPath)
	if err != nil {
		return 0, false, err
	}

	var existing db.ImportFile
	if err := i.db.WithContext(ctx).Where("sha256 = ? OR filename = ?", h, name).Take(&existing).Error; err == nil {
		if existing.SHA256 != h {
			// ta sama nazwa, nowa treść: zapomnij stary wynik
			err := i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", existing.ImportID).
				Updates(map[string]any{"sha256": h, "size_bytes": fi.Size(), "status": db.ImportPending}).Error
			return existing.ImportID, true, err
		}
		return existing.ImportID, true, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, err
	}

	rec := db.ImportFile{
		Filename:  name,
		SHA256:    h,
		SizeBytes: fi.Size(),
		Status:    db.ImportPending,
	}
	if err := i.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, false, err
	}
	return rec.ImportID, false, nil
}

func (i *Importer) processFile(ctx context.Context, importID uint, fullPath string) (int, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	const batchSize = 500
	batch := make([]db.StProduct, 0, batchSize)
	inserted := 0

	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// wyczyść staging dla tego importu (idempotentnie)
		if err := tx.Where("import_id = ?", importID).Delete(&db.StProduct{}).Error; err != nil {
			return err
		}
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := tx.Create(&batch).Error; err != nil {
				i.log.Error().Err(err).Int("n", len(batch)).Msg("insert st_products batch failed")
				return err
			}
			inserted += len(batch)
			batch = batch[:0]
			return nil
		}

		seen := map[string]bool{}
		err := decodeProducts(bufio.NewReader(f), func(p xmlProduct) error {
			row, ok := toStaging(importID, p)
			if !ok {
				i.log.Warn().Str("name", p.Name).Msg("produkt bez <id> — pomijam")
				return nil
			}
			if seen[row.ExternalID] {
				i.log.Warn().Str("id", row.ExternalID).Msg("zdublowane <id> w feedzie — biorę pierwsze")
				return nil
			}
			seen[row.ExternalID] = true
			batch = append(batch, row)
			if len(batch) >= batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return flush()
	})
	if err != nil {
		return 0, err
	}

	i.log.Info().Uint("import_id", importID).Int("products_inserted", inserted).Msg("XML parsed → staging OK")
	return inserted, nil
}

// decodeProducts strumieniowo dekoduje kolejne <product>, bez ładowania całego pliku.
func decodeProducts(r io.Reader, fn func(xmlProduct) error) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(cs string, in io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(normalizeCharset(cs), in)
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(se.Name.Local, "product") {
			continue
		}
		var p xmlProduct
		if err := dec.DecodeElement(&p, &se); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
}

func toStaging(importID uint, p xmlProduct) (db.StProduct, bool) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return db.StProduct{}, false
	}
	var images, features []string
	for _, u := range p.Images {
		if u = strings.TrimSpace(u); u != "" {
			images = append(images, u)
		}
	}
	for _, f := range p.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	variants := make([]variantJSON, 0, len(p.Variants))
	for _, v := range p.Variants {
		variants = append(variants, variantJSON{
			Name:  strings.TrimSpace(v.Name),
			SKU:   strings.TrimSpace(v.SKU),
			Price: f64(v.Price),
			Stock: int(f64(v.Stock)),
		})
	}
	return db.StProduct{
		ImportID:     importID,
		ExternalID:   id,
		Name:         strings.TrimSpace(p.Name),
		Description:  strings.TrimSpace(p.Description),
		Category:     strings.TrimSpace(p.Category),
		Currency:     strings.ToUpper(strings.TrimSpace(p.Currency)),
		Price:        f64(p.Price),
		SalePrice:    f64(p.SalePrice),
		Stock:        int(f64(p.Stock)),
		Available:    yn(p.Available),
		ImagesJSON:   mustJSON(images),
		FeaturesJSON: mustJSON(features),
		VariantsJSON: mustJSON(variants),
	}, true
}

type variantJSON struct {
	Name  string  `json:"name"`
	SKU   string  `json:"sku,omitempty"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// normalizeCharset mapuje nietypowe etykiety na standardowe nazwy rozpoznawane przez charset.NewReaderLabel
func normalizeCharset(cs string) string {
	c := strings.TrimSpace(strings.ToLower(cs))
	switch c {
	case "latin ii", "latin-2", "latin2", "iso8859-2", "iso_8859-2":
		return "iso-8859-2"
	case "cp1250", "windows1250", "win-1250":
		return "windows-1250"
	default:
		return c
	}
}

func yn(s string) bool {
	switch strings.TrimSpace(strings.ToUpper(s)) {
	case "Y", "T", "1", "TAK", "TRUE", "YES":
		return true
	default:
		return false
	}
}

func f64(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	// zamień ewentualny przecinek na kropkę
	s = strings.ReplaceAll(s, ",", ".")
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func factory(log zerolog.Logger, raw json.RawMessage, deps integrations.Deps) (integrations.Integration, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.WatchDir == "" {
		return nil, errors.New("feed: watch_dir is required")
	}
	if deps.DB == nil {
		return nil, errors.New("feed: brak bazy")
	}
	return NewImporter(log, cfg, deps.DB), nil
}

func init() {
	integrations.Register("feed", factory)
}
