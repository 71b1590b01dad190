package domain

import (
	"math"
	"strings"
)

// ValidateItem checks the fields the store requires before an item is saved.
func ValidateItem(it DiscoveredItem) error {
	if strings.TrimSpace(it.ID) == "" {
		return NewValidationError("id", it.ID, ErrInvalid)
	}
	if strings.TrimSpace(it.SourceID) == "" {
		return NewValidationError("source_id", it.SourceID, ErrInvalid)
	}
	if it.CreatedAt.IsZero() {
		return NewValidationError("created_at", "", ErrInvalid)
	}
	return nil
}

// ValidateVector rejects vectors that are empty, of the wrong length, or
// contain NaN/Inf. dims <= 0 accepts any non-empty length.
func ValidateVector(v []float32, dims int) error {
	if len(v) == 0 {
		return Malformed("embedding", "empty vector")
	}
	if dims > 0 && len(v) != dims {
		return Malformed("embedding", "got %d dimensions, want %d", len(v), dims)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Malformed("embedding", "non-finite value at %d", i)
		}
	}
	return nil
}

// ClampScore bounds a lead score to 0..100.
func ClampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
