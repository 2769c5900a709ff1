// Package webhook turns provider completion callbacks into ProbeResults.
// Each provider has its own payload shape; all of them go through the same
// status inference so a callback and a probe agree on what "done" means.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/clipforge/pkg/models"
)

var (
	ErrUnknownProvider = errors.New("unknown webhook provider")
	ErrInvalidPayload  = errors.New("invalid webhook payload")
)

// DefaultFailureDetail is recorded when a failure callback carries no explanation.
const DefaultFailureDetail = "provider reported failure"

var (
	failureStatuses  = statusSet("failed", "error", "failure", "cancelled", "canceled")
	successStatuses  = statusSet("completed", "succeeded", "success", "done")
	progressStatuses = statusSet("processing", "queued", "pending", "running", "in_progress")
)

func statusSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Payload is a decoded callback.
type Payload struct {
	Result models.ProbeResult
	// ExternalRef is the provider's reference when the payload carries one.
	ExternalRef string
	// Status is the raw status string, "" when absent.
	Status string
}

// signals are the fields every provider payload reduces to before inference.
type signals struct {
	status    *string
	outputURL string
	errorMsgs []string
}

// infer applies the shared status rules:
//   - failure status: failed, with the first non-empty error message
//   - success status: completed with the URL, else still pending so the
//     probe and the failure ceiling decide
//   - in-progress status: still pending
//   - no status: completed when a URL is present, else still pending
//
// Unrecognised statuses are treated as in progress.
func infer(s signals) models.ProbeResult {
	if s.status == nil || strings.TrimSpace(*s.status) == "" {
		if s.outputURL != "" {
			return models.Completed(s.outputURL)
		}
		return models.StillPending()
	}

	status := strings.ToLower(strings.TrimSpace(*s.status))
	switch {
	case failureStatuses[status]:
		for _, msg := range s.errorMsgs {
			if msg = strings.TrimSpace(msg); msg != "" {
				return models.Failed(msg)
			}
		}
		return models.Failed(DefaultFailureDetail)
	case successStatuses[status]:
		if s.outputURL != "" {
			return models.Completed(s.outputURL)
		}
		return models.StillPending()
	case progressStatuses[status]:
		return models.StillPending()
	default:
		return models.StillPending()
	}
}

// UnknownStatus reports whether the payload carried a status none of the
// inference rules recognise.
func (p Payload) UnknownStatus() bool {
	s := strings.ToLower(strings.TrimSpace(p.Status))
	if s == "" {
		return false
	}
	return !failureStatuses[s] && !successStatuses[s] && !progressStatuses[s]
}

// MissingOutput reports whether the payload claimed success without an output
// URL any decoder recognises.
func (p Payload) MissingOutput() bool {
	return successStatuses[strings.ToLower(strings.TrimSpace(p.Status))] && p.Result.IsPending()
}

// errorField holds an "error" member that providers send either as a string
// or as an object with a message.
type errorField struct {
	text    string
	message string
}

func (e *errorField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &e.text)
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.message = obj.Message
	if e.message == "" {
		e.message = obj.Detail
	}
	return nil
}

// messages orders error texts by precedence: error.message, then error as a string.
func (e *errorField) messages() []string {
	if e == nil {
		return nil
	}
	return []string{e.message, e.text}
}

// Decoder turns one provider's payload into signals.
type Decoder func(body []byte) (signals, string, error)

var decoders = map[string]Decoder{
	"tts":        decodeTTS,
	"generation": decodeGeneration,
	"media":      decodeMedia,
	"generic":    decodeGeneric,
}

// Providers lists the provider names with a decoder.
func Providers() []string {
	return []string{"generation", "generic", "media", "tts"}
}

// Normalize decodes a callback body from the named provider.
func Normalize(provider string, body []byte) (Payload, error) {
	decode, ok := decoders[provider]
	if !ok {
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	sig, ref, err := decode(body)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p := Payload{Result: infer(sig), ExternalRef: ref}
	if sig.status != nil {
		p.Status = *sig.status
	}
	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// {"request_id":"tts-1","status":"completed","audio_url":"https://...","error":{"message":"..."}}
type ttsPayload struct {
	RequestID string      `json:"request_id"`
	Status    *string     `json:"status"`
	AudioURL  string      `json:"audio_url"`
	OutputURL string      `json:"output_url"`
	Error     *errorField `json:"error"`
	Message   string      `json:"message"`
}

func decodeTTS(body []byte) (signals, string, error) {
	var p ttsPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return signals{}, "", err
	}
	return signals{
		status:    p.Status,
		outputURL: firstNonEmpty(p.AudioURL, p.OutputURL),
		errorMsgs: append(p.Error.messages(), p.Message),
	}, p.RequestID, nil
}

// {"code":200,"msg":"success","data":{"task_id":"t1","status":"SUCCESS","result_urls":["https://..."]}}
type generationPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID     string      `json:"task_id"`
		Status     *string     `json:"status"`
		ResultURL  string      `json:"result_url"`
		ResultURLs []string    `json:"result_urls"`
		Error      *errorField `json:"error"`
		FailMsg    string      `json:"fail_msg"`
		Message    string      `json:"message"`
	} `json:"data"`
}

func decodeGeneration(body []byte) (signals, string, error) {
	var p generationPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return signals{}, "", err
	}
	url := p.Data.ResultURL
	if url == "" {
		url = firstNonEmpty(p.Data.ResultURLs...)
	}
	msgs := append(p.Data.Error.messages(), p.Data.FailMsg, p.Data.Message)
	if p.Code >= 400 {
		msgs = append(msgs, p.Msg)
	}
	return signals{status: p.Data.Status, outputURL: url, errorMsgs: msgs}, p.Data.TaskID, nil
}

// {"id":"abc123","status":"done","output":{"url":"https://..."},"error":"..."}
type mediaPayload struct {
	ID        string  `json:"id"`
	Status    *string `json:"status"`
	OutputURL string  `json:"output_url"`
	Output    *struct {
		URL string `json:"url"`
	} `json:"output"`
	Error   *errorField `json:"error"`
	Message string      `json:"message"`
}

func decodeMedia(body []byte) (signals, string, error) {
	var p mediaPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return signals{}, "", err
	}
	url := p.OutputURL
	if url == "" && p.Output != nil {
		url = p.Output.URL
	}
	return signals{
		status:    p.Status,
		outputURL: url,
		errorMsgs: append(p.Error.messages(), p.Message),
	}, p.ID, nil
}

// Any provider without a dedicated decoder: {"status", "output_url"|"url", "error", "message"}.
type genericPayload struct {
	ID        string      `json:"id"`
	Status    *string     `json:"status"`
	OutputURL string      `json:"output_url"`
	URL       string      `json:"url"`
	Error     *errorField `json:"error"`
	Message   string      `json:"message"`
}

func decodeGeneric(body []byte) (signals, string, error) {
	var p genericPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return signals{}, "", err
	}
	return signals{
		status:    p.Status,
		outputURL: firstNonEmpty(p.OutputURL, p.URL),
		errorMsgs: append(p.Error.messages(), p.Message),
	}, p.ID, nil
}
