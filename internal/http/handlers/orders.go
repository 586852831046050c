package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/modules/orders"
)

type OrderHandler struct {
	Repo *orders.Repo
}

func NewOrderHandler(repo *orders.Repo) *OrderHandler {
	return &OrderHandler{Repo: repo}
}

func (h *OrderHandler) Detail(c *gin.Context) {
	order, err := loadOrder(c, h.Repo, c.Param("orderID"))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	if err := ensureOrderAccess(c, &order); err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orderJSON(&order))
}

func (h *OrderHandler) ListMine(c *gin.Context) {
	uid := middleware.CurrentUserID(c)
	if uid == nil {
		c.JSON(http.StatusOK, gin.H{"orders": []gin.H{}})
		return
	}
	list, err := h.Repo.ListForUser(c.Request.Context(), *uid)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for i := range list {
		out = append(out, orderJSON(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}
