package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/modules/products"
	"derukkies.com/app/internal/shared/apperr"
)

type ProductHandler struct {
	Repo *products.Repo
}

func NewProductHandler(repo *products.Repo) *ProductHandler {
	return &ProductHandler{Repo: repo}
}

func (h *ProductHandler) List(c *gin.Context) {
	list, err := h.Repo.List(c.Request.Context())
	if err != nil {
		middleware.Fail(c, apperr.Wrap(err))
		return
	}
	out := make([]gin.H, 0, len(list))
	for i := range list {
		out = append(out, productJSON(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

func (h *ProductHandler) Detail(c *gin.Context) {
	slug := c.Param("slug")
	p, err := h.Repo.GetBySlug(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			middleware.Fail(c, apperr.NotFoundErr("product_not_found"))
			return
		}
		middleware.Fail(c, apperr.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, productJSON(&p))
}

func productJSON(p *products.Product) gin.H {
	return gin.H{
		"id":          p.ID,
		"name":        p.Name,
		"slug":        p.Slug,
		"description": p.Description,
		"price":       p.Price.StringFixed(2),
		"stock":       p.Stock,
		"is_digital":  p.IsDigital,
	}
}
