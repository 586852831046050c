package cart

import (
	"time"

	"derukkies.com/app/internal/modules/products"
)

type Cart struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	UserID    *string   `gorm:"type:char(36);index:ix_carts_user"`
	CreatedAt time.Time `gorm:"type:datetime;not null"`
	UpdatedAt time.Time `gorm:"type:datetime;not null"`

	Items []CartItem `gorm:"foreignKey:CartID"`
}

func (Cart) TableName() string { return "carts" }

type CartItem struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	CartID    string    `gorm:"type:char(36);not null;uniqueIndex:ux_cart_items_cart_product,priority:1"`
	ProductID string    `gorm:"type:char(36);not null;uniqueIndex:ux_cart_items_cart_product,priority:2"`
	Quantity  int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"type:datetime;not null"`
	UpdatedAt time.Time `gorm:"type:datetime;not null"`

	Product products.Product `gorm:"foreignKey:ProductID"`
}

func (CartItem) TableName() string { return "cart_items" }
