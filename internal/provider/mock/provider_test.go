package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/clipforge/internal/provider"
	"github.com/kiranshivaraju/clipforge/internal/provider/mock"
	"github.com/kiranshivaraju/clipforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_RecordsSubmissions(t *testing.T) {
	m := mock.NewMockProvider("media")

	ref, err := m.Submit(context.Background(), models.OpCombineMedia, provider.Params{"video_url": "v"}, "https://cb")
	require.NoError(t, err)
	assert.Equal(t, "mock-ref-1", ref)

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.OpCombineMedia, calls[0].Kind)
	assert.Equal(t, "https://cb", calls[0].CallbackURL)
}

func TestMockProvider_Supports(t *testing.T) {
	m := mock.NewMockProvider("tts")
	assert.True(t, m.Supports(models.OpGenerateVideo))

	m.Kinds = []models.OperationKind{models.OpSynthesizeSpeech}
	assert.True(t, m.Supports(models.OpSynthesizeSpeech))
	assert.False(t, m.Supports(models.OpGenerateVideo))
}

func TestFailingProvider(t *testing.T) {
	m := mock.NewFailingProvider("media", provider.ErrSubmissionRejected)
	_, err := m.Submit(context.Background(), models.OpCombineMedia, nil, "cb")
	assert.True(t, errors.Is(err, provider.ErrSubmissionRejected))
}

func TestTimeoutProvider(t *testing.T) {
	m := mock.NewTimeoutProvider("media")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Submit(ctx, models.OpCombineMedia, nil, "cb")
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
}
