package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/modules/shipping"
	"derukkies.com/app/internal/shared/apperr"
)

type ShippingHandler struct {
	Repo *shipping.Repo
}

func NewShippingHandler(repo *shipping.Repo) *ShippingHandler {
	return &ShippingHandler{Repo: repo}
}

func (h *ShippingHandler) List(c *gin.Context) {
	methods, err := h.Repo.List(c.Request.Context())
	if err != nil {
		middleware.Fail(c, apperr.Wrap(err))
		return
	}
	out := make([]gin.H, 0, len(methods))
	for _, m := range methods {
		out = append(out, gin.H{
			"id":            m.ID,
			"name":          m.Name,
			"price":         m.Price.StringFixed(2),
			"estimated_day": m.EstimatedDay,
		})
	}
	c.JSON(http.StatusOK, gin.H{"methods": out})
}
