package iproductrepo

import (
	"context"

	"github.com/corray333/labshop/internal/service/models/product"
)

// IProductRepository is an interface for the read-only product catalog.
type IProductRepository interface {
	FindByIDs(ctx context.Context, ids []int64) ([]product.Product, error)
}
