// Package catalog is a client for the mock reservation API serving flights,
// hotels and tours as plain REST collections.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"agent-router/internal/domain"
)

// ErrNotFound is returned when the catalog has no entity with the given id.
var ErrNotFound = errors.New("catalog: not found")

// Kinds lists the collections the catalog serves.
var Kinds = []string{domain.KindFlights, domain.KindHotels, domain.KindTours}

// ValidKind reports whether kind is a known collection.
func ValidKind(kind string) bool {
	return slices.Contains(Kinds, kind)
}

// StatusError captures non-2xx catalog responses.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("catalog: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) entityURL(kind, id string) string {
	u := c.baseURL + "/" + kind
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

// List returns every entity of kind.
func (c *Client) List(ctx context.Context, kind string) ([]domain.Entity, error) {
	if !ValidKind(kind) {
		return nil, errors.Errorf("catalog: unknown kind %q", kind)
	}
	var out []domain.Entity
	if err := c.do(ctx, http.MethodGet, c.entityURL(kind, ""), nil, &out); err != nil {
		return nil, errors.Wrapf(err, "catalog: list %s", kind)
	}
	return out, nil
}

// Get returns one entity.
func (c *Client) Get(ctx context.Context, kind, id string) (domain.Entity, error) {
	if !ValidKind(kind) {
		return domain.Entity{}, errors.Errorf("catalog: unknown kind %q", kind)
	}
	if strings.TrimSpace(id) == "" {
		return domain.Entity{}, errors.New("catalog: id is required")
	}
	var out domain.Entity
	if err := c.do(ctx, http.MethodGet, c.entityURL(kind, id), nil, &out); err != nil {
		return domain.Entity{}, errors.Wrapf(err, "catalog: get %s/%s", kind, id)
	}
	return out, nil
}

// GetByIDs returns the entities of kind whose id is in ids, in catalog order.
func (c *Client) GetByIDs(ctx context.Context, kind string, ids []string) ([]domain.Entity, error) {
	all, err := c.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Entity, 0, len(ids))
	for _, e := range all {
		if slices.Contains(ids, e.ID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// SetReserved PATCHes the reserved flag and returns the updated entity.
func (c *Client) SetReserved(ctx context.Context, kind, id string, reserved bool) (domain.Entity, error) {
	if !ValidKind(kind) {
		return domain.Entity{}, errors.Errorf("catalog: unknown kind %q", kind)
	}
	body, err := json.Marshal(map[string]bool{"reserved": reserved})
	if err != nil {
		return domain.Entity{}, errors.Wrap(err, "catalog: marshal patch")
	}
	var out domain.Entity
	if err := c.do(ctx, http.MethodPatch, c.entityURL(kind, id), body, &out); err != nil {
		return domain.Entity{}, errors.Wrapf(err, "catalog: patch %s/%s", kind, id)
	}
	return out, nil
}

// Toggle inverts the reserved flag. Concurrent toggles race; the last write
// wins.
func (c *Client) Toggle(ctx context.Context, kind, id string) (domain.Entity, error) {
	current, err := c.Get(ctx, kind, id)
	if err != nil {
		return domain.Entity{}, err
	}
	return c.SetReserved(ctx, kind, id, !current.Reserved)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{StatusCode: res.StatusCode, URL: u, Body: string(buf)}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
