package models

// Product is the read-only slice of the catalog that chat needs to
// attach product cards to messages. The catalog service owns the table.
type Product struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	DiscountPrice float64 `json:"discountPrice"`
	Stock         int     `json:"stock"`
	Image         string  `json:"image"`
	Brand         string  `json:"brand"`
	SKU           string  `gorm:"column:sku" json:"sku"`
	Category      string  `json:"category"`
}

// ProductRef is the denormalized product snapshot stored with a message.
type ProductRef struct {
	ID            uint    `json:"id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	DiscountPrice float64 `json:"discountPrice,omitempty"`
	Stock         int     `json:"stock"`
	Image         string  `json:"image,omitempty"`
	Brand         string  `json:"brand,omitempty"`
	SKU           string  `json:"sku,omitempty"`
	Category      string  `json:"category,omitempty"`
}

// Ref snapshots the product.
func (p *Product) Ref() *ProductRef {
	return &ProductRef{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		DiscountPrice: p.DiscountPrice,
		Stock:         p.Stock,
		Image:         p.Image,
		Brand:         p.Brand,
		SKU:           p.SKU,
		Category:      p.Category,
	}
}
