package media

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/provider"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// Provider submits FFmpeg-style media jobs: overlaying voiceover on a clip and
// concatenating clips into one video.
type Provider struct {
	client *provider.Client
}

func NewProvider(cfg config.ProviderEndpoint, timeout time.Duration) *Provider {
	return &Provider{client: provider.NewClient(cfg.BaseURL, cfg.APIKey, timeout)}
}

func (p *Provider) Name() string { return "media" }

func (p *Provider) Supports(kind models.OperationKind) bool {
	return kind == models.OpCombineMedia || kind == models.OpConcatenateMedia
}

// Submit for combine_media requires "video_url" and "audio_url"; for
// concatenate_media it requires "video_urls" (a list of strings).
func (p *Provider) Submit(ctx context.Context, kind models.OperationKind, params provider.Params, callbackURL string) (string, error) {
	req := jobRequest{WebhookURL: callbackURL, OutputFormat: "mp4"}

	switch kind {
	case models.OpCombineMedia:
		video, audio := params.String("video_url"), params.String("audio_url")
		if video == "" || audio == "" {
			return "", fmt.Errorf("%w: video_url and audio_url are required", provider.ErrSubmissionRejected)
		}
		req.Operation = "combine"
		req.Inputs = []string{video, audio}
	case models.OpConcatenateMedia:
		inputs := stringList(params["video_urls"])
		if len(inputs) < 2 {
			return "", fmt.Errorf("%w: at least two video_urls are required", provider.ErrSubmissionRejected)
		}
		req.Operation = "concatenate"
		req.Inputs = inputs
	default:
		return "", fmt.Errorf("%w: media cannot %s", provider.ErrUnsupportedKind, kind)
	}

	var resp jobResponse
	if err := p.client.PostJSON(ctx, "/v1/jobs", req, &resp); err != nil {
		return "", fmt.Errorf("media submit: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("media submit: %w: missing id", provider.ErrInvalidResponse)
	}
	return resp.ID, nil
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type jobRequest struct {
	Operation    string   `json:"operation"`
	Inputs       []string `json:"inputs"`
	OutputFormat string   `json:"output_format"`
	WebhookURL   string   `json:"webhook_url"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

var _ provider.Provider = (*Provider)(nil)
