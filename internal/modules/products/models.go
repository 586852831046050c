package products

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `gorm:"type:char(36);primaryKey"`
	Name        string          `gorm:"type:varchar(255);not null"`
	Slug        string          `gorm:"type:varchar(255);not null;uniqueIndex:ux_products_slug"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Stock       int             `gorm:"not null;default:0"`
	IsDigital   bool            `gorm:"not null;default:false"`
	IsActive    bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time       `gorm:"type:datetime;not null"`
	UpdatedAt   time.Time       `gorm:"type:datetime;not null"`
}

func (Product) TableName() string { return "products" }
