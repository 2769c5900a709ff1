package webhook

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// DedupeKey identifies a delivery by job and outcome, so a provider retrying the
// same callback maps to one key while a different outcome for the same job does
// not.
func DedupeKey(jobID uuid.UUID, result models.ProbeResult) string {
	h := sha256.New()
	h.Write([]byte(result.Kind))
	h.Write([]byte{0})
	h.Write([]byte(result.OutputLocation))
	h.Write([]byte{0})
	h.Write([]byte(result.ErrorDetail))
	return jobID.String() + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
