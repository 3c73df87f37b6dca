package handler

import (
	"realm-wallet/internal/adapter/http/dto"
	"realm-wallet/internal/core/ports"
	"realm-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

// CatalogHandler serves the purchasable items.
type CatalogHandler struct {
	catalog ports.CatalogService
}

func NewCatalogHandler(catalog ports.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListItems handles GET /api/v1/catalog.
func (h *CatalogHandler) ListItems(c *gin.Context) {
	response.OK(c, gin.H{"items": dto.FromItems(h.catalog.Items())})
}
