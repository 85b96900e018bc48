package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopora/checkout/internal/platform/config"
)

// ProfileClient reads user profile data; checkout only needs the preferred
// shipping address.
type ProfileClient struct {
	rest *restClient
}

// NewProfileClient constructs a profile client. doer may be nil for the
// default HTTP client.
func NewProfileClient(svc config.ServiceConfig, brk config.BreakerConfig, doer Doer) (*ProfileClient, error) {
	rest, err := newRESTClient("profile", svc, brk, doer)
	if err != nil {
		return nil, err
	}
	return &ProfileClient{rest: rest}, nil
}

type addressPayload struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone"`
}

// PreferredAddress returns the user's preferred shipping address rendered as
// a single postal string.
func (c *ProfileClient) PreferredAddress(ctx context.Context, userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", errors.New("clients: user id is required")
	}

	var payload struct {
		Address addressPayload `json:"preferredAddress"`
	}
	if err := c.rest.getJSON(ctx, "/api/v1/users/"+id+"/preferred-address", nil, &payload); err != nil {
		return "", err
	}

	rendered := payload.Address.render()
	if rendered == "" {
		return "", fmt.Errorf("%w: preferred address is empty", ErrBadResponse)
	}
	return rendered, nil
}

func (p addressPayload) render() string {
	parts := make([]string, 0, 6)
	for _, part := range []string{p.Name, p.Line1, p.Line2, p.City, p.PostalCode, p.Phone} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}
