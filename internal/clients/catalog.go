package clients

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/platform/config"
)

// CatalogClient reads product data from the catalog service. Responses are
// converted straight into snapshots; the caller stamps the refresh time.
type CatalogClient struct {
	rest *restClient
}

// NewCatalogClient constructs a catalog client. doer may be nil for the
// default HTTP client.
func NewCatalogClient(svc config.ServiceConfig, brk config.BreakerConfig, doer Doer) (*CatalogClient, error) {
	rest, err := newRESTClient("catalog", svc, brk, doer)
	if err != nil {
		return nil, err
	}
	return &CatalogClient{rest: rest}, nil
}

type catalogProductPayload struct {
	ID            string `json:"id"`
	ShopID        string `json:"shopId"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	StockQuantity int    `json:"stockQuantity"`
	Availability  string `json:"availability"`
}

// GetProduct fetches a single product by identifier.
func (c *CatalogClient) GetProduct(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	id := strings.TrimSpace(productID)
	if err := domain.ValidateIdentifier(id); err != nil {
		return domain.ProductSnapshot{}, err
	}

	var payload catalogProductPayload
	if err := c.rest.getJSON(ctx, "/api/v1/products/"+id, nil, &payload); err != nil {
		return domain.ProductSnapshot{}, err
	}
	snapshot := payload.toSnapshot()
	if snapshot.ProductID == "" {
		return domain.ProductSnapshot{}, fmt.Errorf("%w: catalog product missing id", ErrBadResponse)
	}
	return snapshot, nil
}

// ListProducts fetches several products in one call. Unknown identifiers are
// simply absent from the result.
func (c *CatalogClient) ListProducts(ctx context.Context, productIDs []string) ([]domain.ProductSnapshot, error) {
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		trimmed := strings.TrimSpace(id)
		if err := domain.ValidateIdentifier(trimmed); err != nil {
			return nil, err
		}
		ids = append(ids, trimmed)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := url.Values{"ids": []string{strings.Join(ids, ",")}}
	var payload struct {
		Products []catalogProductPayload `json:"products"`
	}
	if err := c.rest.getJSON(ctx, "/api/v1/products", query, &payload); err != nil {
		return nil, err
	}

	snapshots := make([]domain.ProductSnapshot, 0, len(payload.Products))
	for _, product := range payload.Products {
		snapshot := product.toSnapshot()
		if snapshot.ProductID == "" {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (p catalogProductPayload) toSnapshot() domain.ProductSnapshot {
	availability := domain.AvailabilityOutOfStock
	if strings.EqualFold(strings.TrimSpace(p.Availability), string(domain.AvailabilityAvailable)) {
		availability = domain.AvailabilityAvailable
	}
	return domain.ProductSnapshot{
		ProductID:     strings.TrimSpace(p.ID),
		ShopID:        strings.TrimSpace(p.ShopID),
		Name:          strings.TrimSpace(p.Name),
		UnitPrice:     p.Price,
		StockQuantity: p.StockQuantity,
		Availability:  availability,
	}
}
