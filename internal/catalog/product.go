// Package catalog to kształt rekordu produktu w content store i ceny u operatora płatności.
package catalog

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/bartek5186/saunasync/internal/source"
)

// DocumentType to _type dokumentów produktu w content store.
const DocumentType = "product"

type Slug struct {
	Type    string `json:"_type"`
	Current string `json:"current"`
}

type Image struct {
	Key string `json:"_key"`
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

type Variant struct {
	Key   string  `json:"_key"`
	Name  string  `json:"name"`
	SKU   string  `json:"sku,omitempty"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// Product to dokument produktu w content store.
type Product struct {
	ID           string    `json:"_id,omitempty"`
	Type         string    `json:"_type,omitempty"`
	GHLProductID string    `json:"ghlProductId,omitempty"`
	Name         string    `json:"name"`
	Slug         Slug      `json:"slug"`
	Description  string    `json:"description,omitempty"`
	Price        float64   `json:"price"`
	SalePrice    float64   `json:"salePrice,omitempty"`
	StockCount   int       `json:"stockCount"`
	InStock      bool      `json:"inStock"`
	Images       []Image   `json:"images,omitempty"`
	Category     string    `json:"category,omitempty"`
	Features     []string  `json:"features,omitempty"`
	Variants     []Variant `json:"variants,omitempty"`
}

// Ref: tylko identyfikator i nazwa, tyle zwraca zapytanie przed kasowaniem.
type Ref struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Price w operatorze płatności; Amount w groszach/centach.
type Price struct {
	ID        string
	ProductID string
	Amount    int64
	Currency  string
	Variant   string
	Active    bool
	Metadata  map[string]string
}

var reDocID = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// DocumentID buduje deterministyczne _id z zewnętrznego identyfikatora.
func DocumentID(externalID string) string {
	id := reDocID.ReplaceAllString(strings.TrimSpace(externalID), "-")
	id = strings.Trim(id, "-.")
	if len(id) > 110 {
		id = id[:110]
	}
	return "product-" + id
}

var (
	reNonSlug   = regexp.MustCompile(`[^a-z0-9]+`)
	stripMarks  = runes.Remove(runes.In(unicode.Mn))
	slugReplace = strings.NewReplacer("ß", "ss", "ø", "o", "æ", "ae", "ł", "l", "đ", "d", "&", " and ")
)

// Slugify: "Harvia Cilindro PC90E – 9 kW" -> "harvia-cilindro-pc90e-9-kw".
func Slugify(s string) string {
	s = slugReplace.Replace(strings.ToLower(s))
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	s = reNonSlug.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// MinorUnits zamienia kwotę na najmniejsze jednostki waluty (12.34 -> 1234).
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromSource mapuje produkt ze źródła na dokument content store.
func FromSource(p source.Product) Product {
	out := Product{
		ID:           DocumentID(p.ExternalID),
		Type:         DocumentType,
		GHLProductID: p.ExternalID,
		Name:         strings.TrimSpace(p.Name),
		Slug:         Slug{Type: "slug", Current: Slugify(p.Name)},
		Description:  HTMLToText(p.Description),
		Price:        p.Price,
		SalePrice:    p.SalePrice,
		StockCount:   p.Stock,
		InStock:      p.Available,
		Category:     p.Category,
		Features:     p.Features,
	}
	if len(out.Features) == 0 {
		out.Features = FeaturesFromHTML(p.Description)
	}
	for i, u := range p.Images {
		if strings.TrimSpace(u) == "" {
			continue
		}
		out.Images = append(out.Images, Image{Key: fmt.Sprintf("img%d", i), URL: u, Alt: out.Name})
	}
	for i, v := range p.Variants {
		out.Variants = append(out.Variants, Variant{
			Key:   fmt.Sprintf("var%d", i),
			Name:  v.Name,
			SKU:   v.SKU,
			Price: v.Price,
			Stock: v.Stock,
		})
	}
	return out
}
