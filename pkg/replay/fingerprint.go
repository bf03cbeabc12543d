package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// outcome is the replay-visible shape of a step: what happened, not how
// long it took.
type outcome struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
	Selector string `json:"selector,omitempty"`
}

// Fingerprint is a canonical digest of the per-step outcomes. Two
// replays of the same action log against structurally identical pages
// produce the same fingerprint; timing and attempt counts are excluded.
func (s *Session) Fingerprint() (string, error) {
	outcomes := make([]outcome, len(s.Steps))
	for i, st := range s.Steps {
		outcomes[i] = outcome{
			ActionID: st.ActionID,
			Status:   string(st.Status),
			Selector: st.RepairedSelector,
		}
	}
	raw, err := json.Marshal(outcomes)
	if err != nil {
		return "", fmt.Errorf("fingerprint marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("fingerprint canonicalize: %w", err)
	}
	h := sha256.Sum256(canonical)
	return hex.EncodeToString(h[:]), nil
}
