package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/clipforge/internal/provider"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// Submission records one call to Submit.
type Submission struct {
	Kind        models.OperationKind
	Params      provider.Params
	CallbackURL string
}

// MockProvider satisfies provider.Provider for testing.
type MockProvider struct {
	Name_      string
	Kinds      []models.OperationKind
	SubmitFunc func(ctx context.Context, kind models.OperationKind, params provider.Params, callbackURL string) (string, error)

	mu          sync.Mutex
	Submissions []Submission
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Supports(kind models.OperationKind) bool {
	if len(m.Kinds) == 0 {
		return true
	}
	for _, k := range m.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (m *MockProvider) Submit(ctx context.Context, kind models.OperationKind, params provider.Params, callbackURL string) (string, error) {
	m.mu.Lock()
	m.Submissions = append(m.Submissions, Submission{Kind: kind, Params: params, CallbackURL: callbackURL})
	n := len(m.Submissions)
	m.mu.Unlock()

	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, kind, params, callbackURL)
	}
	return fmt.Sprintf("mock-ref-%d", n), nil
}

// Calls returns a copy of the recorded submissions.
func (m *MockProvider) Calls() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Submission(nil), m.Submissions...)
}

// NewMockProvider returns a MockProvider that accepts every kind and issues
// sequential references.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{Name_: name}
}

// NewFailingProvider returns a MockProvider whose submissions always fail with err.
func NewFailingProvider(name string, err error) *MockProvider {
	return &MockProvider{
		Name_: name,
		SubmitFunc: func(context.Context, models.OperationKind, provider.Params, string) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider(name string) *MockProvider {
	return &MockProvider{
		Name_: name,
		SubmitFunc: func(ctx context.Context, _ models.OperationKind, _ provider.Params, _ string) (string, error) {
			<-ctx.Done()
			return "", fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, ctx.Err())
		},
	}
}

// Compile-time check that MockProvider implements provider.Provider.
var _ provider.Provider = (*MockProvider)(nil)
