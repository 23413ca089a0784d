package revlens

import (
	"fmt"
	"strings"
)

// InsufficientDataError is returned when fewer vectors are available than the
// chosen algorithm needs.
type InsufficientDataError struct {
	Algorithm Algorithm
	Have      int
	Need      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d vectors, need at least %d", e.Algorithm, e.Have, e.Need)
}

// Hint returns advisory remediation text for the caller.
func (e *InsufficientDataError) Hint() string {
	return "relax the negative-review filter or lower K/minSamples to reduce the data requirement"
}

// MissingFeatureError is returned when a review selected for processing has no
// sentiment result or embedding vector.
type MissingFeatureError struct {
	Feature  string // "sentiment" or "embedding"
	ReviewID string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing %s for review %s", e.Feature, e.ReviewID)
}

func (e *MissingFeatureError) Hint() string {
	return fmt.Sprintf("re-run the %s step so every review has a %s before clustering", e.Feature, e.Feature)
}

// CandidateFailure records why a single scanned candidate produced no usable metrics.
type CandidateFailure struct {
	K      int    `json:"k"`
	Reason string `json:"reason"`
}

// NoValidCandidateError is returned when every scanned K produced invalid metrics.
type NoValidCandidateError struct {
	Algorithm Algorithm
	Attempts  []CandidateFailure
}

func (e *NoValidCandidateError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("K=%d: %s", a.K, a.Reason)
	}
	return fmt.Sprintf("no valid candidate for %s across %d attempts (%s)",
		e.Algorithm, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *NoValidCandidateError) Hint() string {
	return "the data may be degenerate (near-identical embeddings); widen the K range or loosen the filter to include more reviews"
}

// InvalidConfigurationError is returned for out-of-range weights, thresholds or K ranges.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *InvalidConfigurationError) Hint() string {
	return fmt.Sprintf("fix %s in settings.yaml and re-run", e.Field)
}

// StageError wraps an error with the pipeline stage that produced it, so callers
// can report which stage failed without parsing message text.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// hinter is implemented by errors that carry a remediation suggestion.
type hinter interface {
	Hint() string
}

// ErrorHint extracts the remediation hint from an error chain, if any.
func ErrorHint(err error) string {
	for err != nil {
		if h, ok := err.(hinter); ok {
			return h.Hint()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
