package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/provider"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// Provider submits AI music and video generation tasks.
type Provider struct {
	client *provider.Client
}

func NewProvider(cfg config.ProviderEndpoint, timeout time.Duration) *Provider {
	return &Provider{client: provider.NewClient(cfg.BaseURL, cfg.APIKey, timeout)}
}

func (p *Provider) Name() string { return "generation" }

func (p *Provider) Supports(kind models.OperationKind) bool {
	return kind == models.OpGenerateMusic || kind == models.OpGenerateVideo
}

// Submit requires param "prompt". "duration_seconds" and "style" are passed through.
func (p *Provider) Submit(ctx context.Context, kind models.OperationKind, params provider.Params, callbackURL string) (string, error) {
	var path string
	switch kind {
	case models.OpGenerateMusic:
		path = "/api/v1/music/generate"
	case models.OpGenerateVideo:
		path = "/api/v1/video/generate"
	default:
		return "", fmt.Errorf("%w: generation cannot %s", provider.ErrUnsupportedKind, kind)
	}

	prompt := params.String("prompt")
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", provider.ErrSubmissionRejected)
	}

	req := taskRequest{
		Prompt:      prompt,
		Style:       params.String("style"),
		CallBackURL: callbackURL,
	}
	if d, ok := params["duration_seconds"].(float64); ok {
		req.Duration = int(d)
	}

	var resp taskResponse
	if err := p.client.PostJSON(ctx, path, req, &resp); err != nil {
		return "", fmt.Errorf("generation submit: %w", err)
	}
	if resp.Code != 0 && resp.Code != 200 {
		return "", fmt.Errorf("generation submit: %w: code %d: %s", provider.ErrSubmissionRejected, resp.Code, resp.Msg)
	}
	if resp.Data.TaskID == "" {
		return "", fmt.Errorf("generation submit: %w: missing task_id", provider.ErrInvalidResponse)
	}
	return resp.Data.TaskID, nil
}

type taskRequest struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	CallBackURL string `json:"callBackUrl"`
}

type taskResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

var _ provider.Provider = (*Provider)(nil)
