// internal/integrations/ghl/types.go
package ghl

type ghlMedia struct {
	URL  string `json:"url"`
	Type string `json:"type"` // "image","video"
}

type ghlProduct struct {
	ID               string     `json:"_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"` // HTML
	ProductType      string     `json:"productType"` // "PHYSICAL","DIGITAL","SERVICE"
	Image            string     `json:"image"`
	Medias           []ghlMedia `json:"medias"`
	AvailableInStore bool       `json:"availableInStore"`
	CollectionIDs    []string   `json:"collectionIds"`
}

type productsPage struct {
	Products []ghlProduct `json:"products"`
}

type ghlPrice struct {
	ID                string  `json:"_id"`
	Name              string  `json:"name"`
	Type              string  `json:"type"` // "one_time","recurring"
	Currency          string  `json:"currency"`
	Amount            float64 `json:"amount"` // w jednostkach głównych
	CompareAtPrice    float64 `json:"compareAtPrice"`
	SKU               string  `json:"sku"`
	TrackInventory    bool    `json:"trackInventory"`
	AvailableQuantity int     `json:"availableQuantity"`
}

type pricesPage struct {
	Prices []ghlPrice `json:"prices"`
}
