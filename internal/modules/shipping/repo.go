package shipping

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Method struct {
	ID           string          `gorm:"type:char(36);primaryKey"`
	Name         string          `gorm:"type:varchar(100);not null"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	EstimatedDay int             `gorm:"not null;default:0"`
	IsActive     bool            `gorm:"not null;default:true"`
	CreatedAt    time.Time       `gorm:"type:datetime;not null"`
	UpdatedAt    time.Time       `gorm:"type:datetime;not null"`
}

func (Method) TableName() string { return "shipping_methods" }

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) List(ctx context.Context) ([]Method, error) {
	var methods []Method
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price ASC").
		Find(&methods).Error
	return methods, err
}

func (r *Repo) Get(ctx context.Context, id string) (Method, error) {
	var m Method
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	return m, err
}
