package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Checker reports whether an artifact exists at a location. Errors that leave
// existence undetermined wrap ErrTransientProbe.
type Checker interface {
	Exists(ctx context.Context, location string) (bool, error)
}

// HTTPChecker checks existence with a HEAD request.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker creates an HTTPChecker whose requests time out after timeout.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{client: &http.Client{Timeout: timeout}}
}

func (c *HTTPChecker) Exists(ctx context.Context, location string) (bool, error) {
	status, err := c.do(ctx, http.MethodHead, location)
	if err != nil {
		return false, err
	}
	// Some CDNs reject HEAD; a one-byte ranged GET answers the same question.
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = c.do(ctx, http.MethodGet, location)
		if err != nil {
			return false, err
		}
	}

	switch {
	case status >= 200 && status < 300:
		return true, nil
	case status == http.StatusNotFound, status == http.StatusForbidden, status == http.StatusGone:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s answered %d", ErrTransientProbe, location, status)
	}
}

func (c *HTTPChecker) do(ctx context.Context, method, location string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, location, nil)
	if err != nil {
		return 0, fmt.Errorf("building probe request: %w", err)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}

// MultiChecker routes a location to a Checker by URL scheme.
type MultiChecker struct {
	byScheme map[string]Checker
}

// NewMultiChecker creates a MultiChecker. Keys are URL schemes ("https", "s3").
func NewMultiChecker(checkers map[string]Checker) *MultiChecker {
	return &MultiChecker{byScheme: checkers}
}

func (m *MultiChecker) Exists(ctx context.Context, location string) (bool, error) {
	u, err := url.Parse(location)
	if err != nil {
		return false, fmt.Errorf("parsing location %q: %w", location, err)
	}
	c, ok := m.byScheme[u.Scheme]
	if !ok {
		return false, fmt.Errorf("no checker for scheme %q", u.Scheme)
	}
	return c.Exists(ctx, location)
}

// classifyError maps transport-level errors to ErrTransientProbe.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: timeout: %v", ErrTransientProbe, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransientProbe, err)
	}

	return fmt.Errorf("%w: %v", ErrTransientProbe, err)
}

var (
	_ Checker = (*HTTPChecker)(nil)
	_ Checker = (*MultiChecker)(nil)
)
