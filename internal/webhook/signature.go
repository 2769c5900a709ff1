package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Signature headers. The timestamp is optional; when sent it is signed
// together with the body and must be within MaxSignatureSkew of now.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"

	MaxSignatureSkew = 5 * time.Minute
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign returns the hex HMAC-SHA256 of body, prefixed by timestamp and a newline
// when timestamp is set.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	if timestamp != "" {
		_, _ = mac.Write([]byte(timestamp))
		_, _ = mac.Write([]byte("\n"))
	}
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value ("sha256=<hex>" or "<hex>").
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return errors.Join(ErrInvalidSignature, errors.New("missing signature"))
	}

	if timestamp != "" {
		ts, err := parseTimestamp(timestamp)
		if err != nil {
			return errors.Join(ErrInvalidSignature, err)
		}
		delta := now.Sub(ts)
		if delta < 0 {
			delta = -delta
		}
		if delta > MaxSignatureSkew {
			return errors.Join(ErrInvalidSignature, errors.New("timestamp outside replay window"))
		}
	}

	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return errors.Join(ErrInvalidSignature, errors.New("signature mismatch"))
	}
	return nil
}

// parseTimestamp accepts RFC 3339 or unix seconds.
func parseTimestamp(v string) (time.Time, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}
