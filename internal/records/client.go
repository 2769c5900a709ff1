// Package records talks to the spreadsheet-style datastore that holds pipeline
// entities (segments, composite videos) and writes job outcomes back into them.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for record store failures.
var (
	ErrRecordStoreUnavailable = errors.New("record store unavailable")
	ErrRecordNotFound         = errors.New("record not found")
	ErrRecordRejected         = errors.New("record store rejected request")
)

// Fields is a record's field map, keyed by field name.
type Fields map[string]any

// Record is one row of a table.
type Record struct {
	ID          string    `json:"id"`
	Fields      Fields    `json:"fields"`
	CreatedTime time.Time `json:"createdTime"`
}

// Client is the interface for the record store.
type Client interface {
	UpdateRecord(ctx context.Context, table, id string, fields Fields) error
	GetRecord(ctx context.Context, table, id string) (*Record, error)
	FindRecords(ctx context.Context, table, formula string) ([]Record, error)
}

// HTTPClient implements Client against an Airtable-style REST API:
// {baseURL}/{baseID}/{table}[/{id}].
type HTTPClient struct {
	baseURL string
	baseID  string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new record store client.
func NewHTTPClient(baseURL, baseID, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		baseID:  baseID,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// UpdateRecord patches only the given fields; repeating it with the same fields
// leaves the record unchanged.
func (c *HTTPClient) UpdateRecord(ctx context.Context, table, id string, fields Fields) error {
	u := c.tableURL(table) + "/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, u, recordBody{Fields: fields}, nil); err != nil {
		return fmt.Errorf("update record %s/%s: %w", table, id, err)
	}
	return nil
}

func (c *HTTPClient) GetRecord(ctx context.Context, table, id string) (*Record, error) {
	var rec Record
	u := c.tableURL(table) + "/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, u, nil, &rec); err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", table, id, err)
	}
	return &rec, nil
}

// FindRecords lists records matching an Airtable formula, following pagination.
func (c *HTTPClient) FindRecords(ctx context.Context, table, formula string) ([]Record, error) {
	records := []Record{}
	offset := ""
	for {
		params := url.Values{}
		if formula != "" {
			params.Set("filterByFormula", formula)
		}
		if offset != "" {
			params.Set("offset", offset)
		}
		u := c.tableURL(table)
		if len(params) > 0 {
			u += "?" + params.Encode()
		}

		var page listResponse
		if err := c.do(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, fmt.Errorf("find records in %s: %w", table, err)
		}
		records = append(records, page.Records...)
		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

func (c *HTTPClient) tableURL(table string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(table))
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding record store response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrRecordNotFound, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrRecordStoreUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRecordRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: timeout: %v", ErrRecordStoreUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrRecordStoreUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
}

type recordBody struct {
	Fields Fields `json:"fields"`
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
