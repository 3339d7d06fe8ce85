package transcription

import (
	"context"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
)

const providerStatic = "static"

// StaticRecognizer answers every segment with the same phrase. It lets the
// relay run without a recognition service; an empty phrase means no match.
type StaticRecognizer struct {
	text string

	requestStats
}

// NewStaticRecognizer creates a recognizer that always returns text
func NewStaticRecognizer(text string) *StaticRecognizer {
	return &StaticRecognizer{text: text}
}

// Recognize implements Recognizer
func (s *StaticRecognizer) Recognize(ctx context.Context, segment audio.Segment, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.incrementTotalRequests()
	start := time.Now()

	if Classify(s.text, nil).Kind == OutcomeNoMatch {
		s.record("", ErrNoMatch, time.Since(start))
		return "", ErrNoMatch
	}

	s.record(s.text, nil, time.Since(start))
	return s.text, nil
}

// GetStats returns current recognizer statistics
func (s *StaticRecognizer) GetStats() ClientStats {
	return s.snapshot(providerStatic, 0)
}
