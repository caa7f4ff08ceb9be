// ABOUTME: HTTP client for paged partner endpoints: POST {page, per_page}, decode the envelope
// ABOUTME: Non-2xx responses become errmap.HTTPStatusError carrying the response body

package paged

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/2389/partner-poller/internal/errmap"
	"github.com/2389/partner-poller/internal/httpclient"
)

// maxBody caps how much of a response is read.
const maxBody = 16 << 20

// PageRequest is the body POSTed for one page.
type PageRequest struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// PageResponse is the envelope partner APIs answer with.
type PageResponse struct {
	Success     bool              `json:"success"`
	Status      int               `json:"status"`
	Msg         string            `json:"msg"`
	Title       string            `json:"title,omitempty"`
	TotalCounts int64             `json:"total_counts"`
	PageTotal   int               `json:"page_total"`
	Description map[string]string `json:"description,omitempty"`
	Data        []json.RawMessage `json:"data"`
}

// Client fetches pages from one service endpoint.
type Client struct {
	svc *httpclient.Service
}

// NewClient creates a client for svc's configured endpoint.
func NewClient(svc *httpclient.Service) *Client {
	return &Client{svc: svc}
}

// URL is the endpoint pages are fetched from.
func (c *Client) URL() string { return c.svc.URL("") }

// FetchPage requests one page and returns the decoded envelope and raw body.
func (c *Client) FetchPage(ctx context.Context, page, perPage int) (*PageResponse, []byte, error) {
	if page < 1 || perPage < 1 {
		return nil, nil, errmap.Wrap(errmap.AgentMisconfigured,
			fmt.Errorf("page %d and per_page %d must be positive", page, perPage))
	}

	body, err := json.Marshal(PageRequest{Page: page, PerPage: perPage})
	if err != nil {
		return nil, nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, nil, errmap.Wrap(errmap.AgentMisconfigured, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.svc.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s page %d: %w", c.svc.Name, page, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, fmt.Errorf("%s page %d: reading body: %w", c.svc.Name, page, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, raw, &errmap.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, raw, fmt.Errorf("%s page %d: %w", c.svc.Name, page, errmap.ErrEmptyData)
	}

	var out PageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, raw, fmt.Errorf("%s page %d: decoding response: %w", c.svc.Name, page, err)
	}
	return &out, raw, nil
}

// prettyJSON indents raw JSON, returning it unchanged if it does not parse.
func prettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// businessError wraps a success=false envelope.
func businessError(resp *PageResponse) error {
	msg := resp.Msg
	if msg == "" {
		msg = "success=false"
	}
	return errmap.Wrap(errmap.APIBusinessFailure,
		fmt.Errorf("%w: status=%d: %s", errmap.ErrBusinessFailure, resp.Status, msg))
}

