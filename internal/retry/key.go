package retry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// IdempotencyKey derives a deterministic identifier for one stage invocation
// from the run, the stage ordinal, and the canonicalized stage input.
// Collaborators that perform external writes pass it downstream so a retried
// submission can be detected and short-circuited.
func IdempotencyKey(runID string, ordinal int, input any) (string, error) {
	canonical, err := canonicalize(input)
	if err != nil {
		return "", fmt.Errorf("canonicalize stage input: %w", err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", runID, ordinal, canonical)))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize produces JSON with sorted object keys so the key is stable
// across struct field ordering and map iteration.
func canonicalize(input any) ([]byte, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return json.Marshal(value)
}
