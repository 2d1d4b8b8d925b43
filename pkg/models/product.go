package models

type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusSoldOut  ProductStatus = "sold_out"
)

// Product is a storefront catalog entry. Only active products are ever
// recommended.
type Product struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Category string        `json:"category"`
	Price    float64       `json:"price"`
	Status   ProductStatus `json:"status"`
}

func (p Product) IsActive() bool {
	return p.Status == ProductStatusActive
}
