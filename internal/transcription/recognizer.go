package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
)

// Recognizer turns one audio segment into text.
//
// Implementations return ErrNoMatch when the service understood nothing and a
// *ServiceError for external failures. Any other error is unexpected.
type Recognizer interface {
	Recognize(ctx context.Context, segment audio.Segment, language string) (string, error)
}

// StatsReporter is implemented by recognizers that keep request statistics
type StatsReporter interface {
	GetStats() ClientStats
}

// Config contains recognition backend configuration
type Config struct {
	Provider      string // "http", "openai" or "static"
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Backoff       time.Duration // first retry delay, doubled per attempt
	StaticText    string
	Format        audio.Format
}

// New creates the recognizer selected by config.Provider
func New(config Config, logger *slog.Logger) (Recognizer, error) {
	switch config.Provider {
	case "http":
		return NewClient(config, logger)
	case "openai":
		return NewOpenAIRecognizer(config, logger)
	case "static":
		return NewStaticRecognizer(config.StaticText), nil
	default:
		return nil, fmt.Errorf("unknown recognition provider %q", config.Provider)
	}
}

// OutcomeKind tags a RecognitionOutcome
type OutcomeKind int

const (
	// OutcomeText carries a non-empty recognized utterance
	OutcomeText OutcomeKind = iota
	// OutcomeNoMatch means the service understood nothing
	OutcomeNoMatch
	// OutcomeServiceError is an expected external failure
	OutcomeServiceError
	// OutcomeUnexpected is any other failure, including a recovered panic
	OutcomeUnexpected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeText:
		return "text"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeServiceError:
		return "service_error"
	case OutcomeUnexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the classified result of one recognition call
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

// Classify maps a Recognize result onto an Outcome. Blank text with a nil
// error is treated as no match.
func Classify(text string, err error) Outcome {
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			return Outcome{Kind: OutcomeNoMatch}
		}
		return Outcome{Kind: OutcomeText, Text: text}
	}

	if errors.Is(err, ErrNoMatch) {
		return Outcome{Kind: OutcomeNoMatch, Err: err}
	}

	if IsServiceError(err) {
		return Outcome{Kind: OutcomeServiceError, Err: err}
	}

	return Outcome{Kind: OutcomeUnexpected, Err: err}
}

// BaseLanguage reduces a BCP 47 tag such as "pt-BR" to its ISO-639-1 code
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
