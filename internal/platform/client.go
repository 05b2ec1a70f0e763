// Package platform is the only network boundary of the sync pipeline: it
// fetches one cursor-paginated page of records at a time from the external
// scheduling platform and classifies failures as transient or fatal.
package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Resources the platform can page through.
const (
	ResourceAppointments = "appointments"
	ResourceProductSales = "product_sales"
)

const defaultTimeout = 25 * time.Second

// PageRequest identifies one page of a resource at one location.
type PageRequest struct {
	Resource      string
	LocationToken string
	PageSize      int
	After         string
}

// Page is one page of raw records. NextCursor is opaque and only valid for
// forward consumption.
type Page struct {
	Nodes      []json.RawMessage
	NextCursor string
	HasMore    bool
}

// Fetcher fetches a single page. Implementations must not touch local state.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// GraphQLClient fetches pages from the platform's GraphQL endpoint.
type GraphQLClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
	businessID string
}

// NewGraphQLClient creates a client for the endpoint at url.
func NewGraphQLClient(url, apiKey, businessID string, timeout time.Duration) *GraphQLClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GraphQLClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		apiKey:     apiKey,
		businessID: businessID,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   map[string]connection `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type connection struct {
	Edges []struct {
		Node json.RawMessage `json:"node"`
	} `json:"edges"`
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
}

// queries maps a resource to its connection field and selection set.
var queries = map[string]struct {
	field string
	query string
}{
	ResourceAppointments: {field: "appointments", query: appointmentsQuery},
	ResourceProductSales: {field: "productSales", query: productSalesQuery},
}

const appointmentsQuery = `query Appointments($locationId: ID!, $first: Int!, $after: String) {
  appointments(locationId: $locationId, first: $first, after: $after) {
    edges {
      node {
        id
        state
        startAt
        endAt
        notes
        cancelled
        cancellation { cancelledAt reason notes }
        location { id }
        client { id firstName lastName name email mobilePhone }
        appointmentServices {
          id
          price
          duration
          service { id name category { name } }
          staff { id name }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const productSalesQuery = `query ProductSales($locationId: ID!, $first: Int!, $after: String) {
  productSales(locationId: $locationId, first: $first, after: $after) {
    edges {
      node {
        id
        soldAt
        quantity
        netSales
        product { sku name }
        client { id firstName lastName name email mobilePhone }
        staff { id name }
        location { id }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// FetchPage performs a single request. It does not retry; wrap it in a
// RetryingFetcher for that.
func (c *GraphQLClient) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	q, ok := queries[req.Resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", req.Resource)
	}

	vars := map[string]any{
		"locationId": req.LocationToken,
		"first":      req.PageSize,
	}
	if req.After != "" {
		vars["after"] = req.After
	}

	body, err := json.Marshal(graphQLRequest{Query: q.query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.businessID != "" {
		httpReq.Header.Set("X-Business-Id", c.businessID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, &ServerError{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		msgs := make([]string, len(decoded.Errors))
		for i, e := range decoded.Errors {
			msgs[i] = e.Message
		}
		return nil, &QueryError{Messages: msgs}
	}

	conn, ok := decoded.Data[q.field]
	if !ok {
		return nil, fmt.Errorf("failed to decode response: missing %q connection", q.field)
	}

	page := &Page{
		Nodes:      make([]json.RawMessage, 0, len(conn.Edges)),
		NextCursor: conn.PageInfo.EndCursor,
		HasMore:    conn.PageInfo.HasNextPage,
	}
	for _, e := range conn.Edges {
		page.Nodes = append(page.Nodes, e.Node)
	}
	return page, nil
}
