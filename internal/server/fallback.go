package server

import "github.com/bartek5186/saunasync/internal/catalog"

// FallbackProducts to minimalny katalog serwowany, gdy ani content store, ani mirror nic nie mają.
func FallbackProducts() []catalog.Product {
	mk := func(id, name string, price float64, category string, features ...string) catalog.Product {
		return catalog.Product{
			ID:           catalog.DocumentID(id),
			Type:         catalog.DocumentType,
			GHLProductID: id,
			Name:         name,
			Slug:         catalog.Slug{Type: "slug", Current: catalog.Slugify(name)},
			Price:        price,
			InStock:      true,
			Category:     category,
			Features:     features,
		}
	}
	return []catalog.Product{
		mk("fallback-barrel", "Barrel Sauna", 5999, "outdoor", "Thermally modified spruce", "Seats 4"),
		mk("fallback-cube", "Cube Sauna", 8499, "outdoor", "Panoramic glass front", "Seats 6"),
		mk("fallback-indoor", "Indoor Cabin Sauna", 4299, "indoor", "Fits 2x2 m", "Seats 3"),
		mk("fallback-heater", "Wood-Fired Heater", 1199, "heaters", "Stainless steel", "Up to 18 m3"),
	}
}
