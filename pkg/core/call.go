// pkg/core/call.go
package core

import (
	"errors"
	"strings"
	"time"
)

// DefaultPendingSentinel is the transcription placeholder the backend sends
// while its transcription pipeline is still processing a call.
const DefaultPendingSentinel = "pending"

// CategoryOther is assigned when a call arrives without a recognized category.
const CategoryOther = "OTHER"

// ErrInvalidCall is returned when a call fails validation and must not be
// inserted into the store.
var ErrInvalidCall = errors.New("invalid call record")

// Call is one ingested scanner transmission: who said it, where it was
// geocoded to, and the audio it came from. Timestamps are unix seconds;
// conversion to wall-clock time happens only at display boundaries.
type Call struct {
	ID            int64   `json:"id"`
	Timestamp     int64   `json:"timestamp"`
	TalkgroupID   int64   `json:"talkgroupId"`
	TalkgroupName string  `json:"talkgroupName"`
	Category      string  `json:"category"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Transcription string  `json:"transcription"`
	AudioPath     string  `json:"audioPath"`

	// Set when an operator manually corrected the geocoded location.
	Corrected    bool   `json:"corrected,omitempty"`
	CorrectedBy  string `json:"correctedBy,omitempty"`
	OriginalText string `json:"originalText,omitempty"`
}

// Time returns the call timestamp as wall-clock time.
func (c Call) Time() time.Time {
	return time.Unix(c.Timestamp, 0)
}

// TranscriptionPending reports whether the transcription still carries the
// backend's placeholder value.
func (c Call) TranscriptionPending(sentinel string) bool {
	return c.Transcription == sentinel
}

// NormalizedCategory returns the category uppercased, or CategoryOther when
// the backend sent nothing usable.
func (c Call) NormalizedCategory() string {
	cat := strings.TrimSpace(c.Category)
	if cat == "" {
		return CategoryOther
	}
	return strings.ToUpper(cat)
}

// Validate checks the invariants a call must satisfy before it may enter the
// store: in-range coordinates, an audio reference, and a transcription field
// (the pending sentinel counts as present).
func (c Call) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return ErrInvalidCall
	}
	if c.AudioPath == "" {
		return ErrInvalidCall
	}
	if c.Transcription == "" {
		return ErrInvalidCall
	}
	return nil
}
