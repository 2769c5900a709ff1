package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/provider"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

const defaultVoice = "narrator"

// Provider submits voiceover synthesis to the text-to-speech service.
type Provider struct {
	client *provider.Client
}

func NewProvider(cfg config.ProviderEndpoint, timeout time.Duration) *Provider {
	return &Provider{client: provider.NewClient(cfg.BaseURL, cfg.APIKey, timeout)}
}

func (p *Provider) Name() string { return "tts" }

func (p *Provider) Supports(kind models.OperationKind) bool {
	return kind == models.OpSynthesizeSpeech
}

// Submit requires params "text"; "voice_id" defaults to the narrator voice.
func (p *Provider) Submit(ctx context.Context, kind models.OperationKind, params provider.Params, callbackURL string) (string, error) {
	if !p.Supports(kind) {
		return "", fmt.Errorf("%w: tts cannot %s", provider.ErrUnsupportedKind, kind)
	}
	text := params.String("text")
	if text == "" {
		return "", fmt.Errorf("%w: text is required", provider.ErrSubmissionRejected)
	}
	voice := params.String("voice_id")
	if voice == "" {
		voice = defaultVoice
	}

	var resp speechResponse
	err := p.client.PostJSON(ctx, "/v1/speech", speechRequest{
		Text:        text,
		VoiceID:     voice,
		Format:      "mp3",
		CallbackURL: callbackURL,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("tts submit: %w", err)
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("tts submit: %w: missing request_id", provider.ErrInvalidResponse)
	}
	return resp.RequestID, nil
}

type speechRequest struct {
	Text        string `json:"text"`
	VoiceID     string `json:"voice_id"`
	Format      string `json:"output_format"`
	CallbackURL string `json:"callback_url"`
}

type speechResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

var _ provider.Provider = (*Provider)(nil)
