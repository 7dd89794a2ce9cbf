package models

import "github.com/shopspring/decimal"

type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	ImagePath string
}

type NewProduct struct {
	Name      string
	Price     decimal.Decimal
	ImagePath string
}

// ProductUpdate replaces name and price. An empty ImagePath keeps the stored image.
type ProductUpdate struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	ImagePath string
}

// ProductForm is the multipart body of the add and update endpoints.
type ProductForm struct {
	Name  string `form:"productsName" binding:"required"`
	Price string `form:"productsPrice" binding:"required"`
}

// ParsePrice parses productsPrice as an exact decimal.
func (f ProductForm) ParsePrice() (decimal.Decimal, error) {
	return decimal.NewFromString(f.Price)
}

type ProductResponse struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	ImagePath string  `json:"imagePath"`
}

func NewProductResponse(p Product) ProductResponse {
	return ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price.InexactFloat64(),
		ImagePath: p.ImagePath,
	}
}

type MutationResponse struct {
	Message string          `json:"message"`
	Product ProductResponse `json:"product"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
