package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/clipforge/pkg/models"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func stuckJob(kind models.OperationKind, ref string, age time.Duration) *models.Job {
	j := jobWithRef(kind, ref)
	j.CreatedAt = now.Add(-age)
	return j
}

// fakeChecker answers from a fixed set of existing locations.
type fakeChecker struct {
	mu       sync.Mutex
	existing map[string]bool
	err      error
	calls    []string
}

func (f *fakeChecker) Exists(_ context.Context, location string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, location)
	if f.err != nil {
		return false, f.err
	}
	return f.existing[location], nil
}

func newTestProber(c Checker) *Prober {
	return NewProber(DefaultConventions("https://media.example.com"), c, time.Second, time.Hour).
		WithClock(func() time.Time { return now })
}

func TestProbe_ArtifactExists(t *testing.T) {
	loc := "https://media.example.com/abc123_output_0.mp4"
	p := newTestProber(&fakeChecker{existing: map[string]bool{loc: true}})

	got, err := p.Probe(context.Background(), stuckJob(models.OpCombineMedia, "abc123", 10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.Completed(loc), got)
}

func TestProbe_MissingBeforeCeiling(t *testing.T) {
	p := newTestProber(&fakeChecker{})

	got, err := p.Probe(context.Background(), stuckJob(models.OpCombineMedia, "abc123", 10*time.Minute))
	require.NoError(t, err)
	assert.True(t, got.IsPending())
}

func TestProbe_MissingAfterCeiling(t *testing.T) {
	p := newTestProber(&fakeChecker{})

	got, err := p.Probe(context.Background(), stuckJob(models.OpCombineMedia, "abc123", 61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.Failed(CeilingDetail), got)
}

func TestProbe_TransientErrorStaysPending(t *testing.T) {
	p := newTestProber(&fakeChecker{err: errors.New("connection reset")})

	got, err := p.Probe(context.Background(), stuckJob(models.OpCombineMedia, "abc123", 10*time.Minute))
	require.ErrorIs(t, err, ErrTransientProbe)
	assert.True(t, got.IsPending())
}

func TestProbe_TransientErrorAfterCeilingFails(t *testing.T) {
	p := newTestProber(&fakeChecker{err: ErrTransientProbe})

	got, err := p.Probe(context.Background(), stuckJob(models.OpCombineMedia, "abc123", 2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.Failed(CeilingDetail), got)
}

func TestProbe_NoReference(t *testing.T) {
	checker := &fakeChecker{}
	p := newTestProber(checker)

	got, err := p.Probe(context.Background(), stuckJob(models.OpGenerateVideo, "", 10*time.Minute))
	require.NoError(t, err)
	assert.True(t, got.IsPending())
	assert.Empty(t, checker.calls, "nothing to probe without a reference")

	got, err = p.Probe(context.Background(), stuckJob(models.OpGenerateVideo, "", 2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.Failed(CeilingDetail), got)
}

func TestProbe_TerminalJobReturnsRecordedOutcome(t *testing.T) {
	loc := "https://media.example.com/done.mp4"
	job := stuckJob(models.OpCombineMedia, "done", time.Hour)
	job.Status = models.JobStatusCompleted
	job.OutputLocation = &loc

	checker := &fakeChecker{}
	got, err := newTestProber(checker).Probe(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.Completed(loc), got)
	assert.Empty(t, checker.calls)
}

func TestProbe_FallbackTemplates(t *testing.T) {
	conv := DefaultConventions("https://media.example.com")
	c := conv.Kinds[models.OpCombineMedia]
	c.Templates = append(c.Templates, "{base}/{ref}/final.{ext}")
	conv.Kinds[models.OpCombineMedia] = c

	second := "https://media.example.com/abc/final.mp4"
	checker := &fakeChecker{existing: map[string]bool{second: true}}
	p := NewProber(conv, checker, time.Second, time.Hour).WithClock(func() time.Time { return now })

	got, err := p.Probe(context.Background(), stuckJob(models.OpCombineMedia, "abc", 10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.Completed(second), got)
	assert.Equal(t, []string{"https://media.example.com/abc_output_0.mp4", second}, checker.calls)
}

// --- HTTPChecker ---

func TestHTTPChecker_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      bool
		transient bool
	}{
		{"ok", http.StatusOK, true, false},
		{"partial", http.StatusPartialContent, true, false},
		{"not found", http.StatusNotFound, false, false},
		{"forbidden", http.StatusForbidden, false, false},
		{"server error", http.StatusBadGateway, false, true},
		{"throttled", http.StatusTooManyRequests, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodHead, r.Method)
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			exists, err := NewHTTPChecker(time.Second).Exists(context.Background(), ts.URL+"/abc123_output_0.mp4")
			assert.Equal(t, tt.want, exists)
			if tt.transient {
				assert.ErrorIs(t, err, ErrTransientProbe)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPChecker_FallsBackToRangedGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0})
	}))
	defer ts.Close()

	exists, err := NewHTTPChecker(time.Second).Exists(context.Background(), ts.URL+"/a.mp4")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHTTPChecker_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	_, err := NewHTTPChecker(20*time.Millisecond).Exists(context.Background(), ts.URL+"/slow.mp4")
	assert.ErrorIs(t, err, ErrTransientProbe)
}

func TestHTTPChecker_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := NewHTTPChecker(time.Second).Exists(context.Background(), url+"/gone.mp4")
	assert.ErrorIs(t, err, ErrTransientProbe)
}

// --- MinIOChecker ---

type fakeStatter struct {
	err    error
	bucket string
	key    string
}

func (f *fakeStatter) StatObject(_ context.Context, bucket, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.bucket, f.key = bucket, key
	return minio.ObjectInfo{Key: key}, f.err
}

func TestMinIOChecker(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		s := &fakeStatter{}
		exists, err := (&MinIOChecker{client: s}).Exists(context.Background(), "s3://renders/out/abc_output_0.mp4")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, "renders", s.bucket)
		assert.Equal(t, "out/abc_output_0.mp4", s.key)
	})

	t.Run("no such key", func(t *testing.T) {
		s := &fakeStatter{err: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}}
		exists, err := (&MinIOChecker{client: s}).Exists(context.Background(), "s3://renders/abc.mp4")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("other error is transient", func(t *testing.T) {
		s := &fakeStatter{err: minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}}
		_, err := (&MinIOChecker{client: s}).Exists(context.Background(), "s3://renders/abc.mp4")
		assert.ErrorIs(t, err, ErrTransientProbe)
	})

	t.Run("bad location", func(t *testing.T) {
		_, err := (&MinIOChecker{client: &fakeStatter{}}).Exists(context.Background(), "https://renders/abc.mp4")
		require.Error(t, err)
	})
}

// --- MultiChecker ---

func TestMultiChecker_RoutesByScheme(t *testing.T) {
	httpC := &fakeChecker{existing: map[string]bool{"https://cdn/a.mp4": true}}
	s3C := &fakeChecker{}
	m := NewMultiChecker(map[string]Checker{"https": httpC, "s3": s3C})

	exists, err := m.Exists(context.Background(), "https://cdn/a.mp4")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = m.Exists(context.Background(), "s3://bucket/a.mp4")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, []string{"s3://bucket/a.mp4"}, s3C.calls)

	_, err = m.Exists(context.Background(), "ftp://x/a.mp4")
	require.Error(t, err)
}
