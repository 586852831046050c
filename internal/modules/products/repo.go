package products

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gorm.io/gorm"

	"derukkies.com/app/internal/shared/slug"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	var items []Product
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("updated_at DESC").
		Find(&items).Error
	return items, err
}

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	var p Product
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	return p, err
}

func (r *Repo) GetBySlug(ctx context.Context, slug string) (Product, error) {
	var p Product
	err := r.db.WithContext(ctx).First(&p, "slug = ? AND is_active = ?", slug, true).Error
	return p, err
}

func (r *Repo) Create(ctx context.Context, name, slugStr, desc string, price decimal.Decimal, stock int, isDigital bool) (Product, error) {
	if slugStr == "" {
		slugStr = slug.FromName(name)
	}
	p := Product{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        slugStr,
		Description: desc,
		Price:       price,
		Stock:       stock,
		IsDigital:   isDigital,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return Product{}, err
	}
	return p, nil
}
