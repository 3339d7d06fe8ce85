package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
)

const providerOpenAI = "openai"

// OpenAIRecognizer transcribes segments with the OpenAI Whisper API
type OpenAIRecognizer struct {
	client *openai.Client
	config Config
	logger *slog.Logger

	requestStats
}

// NewOpenAIRecognizer creates a Whisper-backed recognizer. A non-empty
// Endpoint replaces the API base URL (OpenAI-compatible servers).
func NewOpenAIRecognizer(config Config, logger *slog.Logger) (*OpenAIRecognizer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	if config.Format.SampleRate == 0 {
		config.Format = audio.DeviceFormat
	}

	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.Endpoint != "" {
		clientConfig.BaseURL = config.Endpoint
	}

	return &OpenAIRecognizer{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger.With(slog.String("component", "openai_recognizer")),
	}, nil
}

// Recognize sends one segment to the transcription endpoint
func (r *OpenAIRecognizer) Recognize(ctx context.Context, segment audio.Segment, language string) (string, error) {
	if segment.Len() == 0 {
		return "", ErrNoMatch
	}

	wavData, err := audio.EncodeWAV(segment.Data, r.config.Format)
	if err != nil {
		return "", fmt.Errorf("convert to WAV: %w", err)
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	req := openai.AudioRequest{
		Model:    r.config.Model,
		Reader:   bytes.NewReader(wavData),
		FilePath: segment.ID + ".wav",
		Language: BaseLanguage(language),
	}

	r.incrementTotalRequests()
	start := time.Now()
	resp, err := r.client.CreateTranscription(ctx, req)
	duration := time.Since(start)

	if err != nil {
		err = NewServiceError(providerOpenAI, statusCodeOf(err), err)
		r.record("", err, duration)
		r.logger.Debug("Transcription call failed",
			slog.String("segment_id", segment.ID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", err
	}

	r.record(resp.Text, nil, duration)
	if Classify(resp.Text, nil).Kind == OutcomeNoMatch {
		return "", ErrNoMatch
	}

	r.logger.Debug("Transcribed segment",
		slog.String("segment_id", segment.ID),
		slog.Int("bytes", segment.Len()),
		slog.Duration("duration", duration))

	return resp.Text, nil
}

// statusCodeOf extracts the HTTP status from go-openai errors, 0 if unknown
func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}

	return 0
}

// GetStats returns current recognizer statistics
func (r *OpenAIRecognizer) GetStats() ClientStats {
	return r.snapshot(providerOpenAI, 0)
}
