package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
)

const providerHTTP = "http"

// Client is the recognizer backed by a multipart HTTP transcription API
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore
	logger     *slog.Logger

	requestStats
}

// TranscriptionResponse represents the response from the transcription API
type TranscriptionResponse struct {
	SegmentID  string  `json:"segment_id,omitempty"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	if config.Format.SampleRate == 0 {
		config.Format = audio.DeviceFormat
	}

	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger.With(slog.String("component", "http_recognizer")),
	}, nil
}

// Recognize sends one segment for transcription
func (c *Client) Recognize(ctx context.Context, segment audio.Segment, language string) (string, error) {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	wavData, err := audio.EncodeWAV(segment.Data, c.config.Format)
	if err != nil {
		return "", fmt.Errorf("failed to encode segment %s: %w", segment.ID, err)
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	text, err := c.recognizeWithRetry(ctx, segment, wavData, language)
	c.record(text, err, time.Since(startTime))

	return text, err
}

func (c *Client) recognizeWithRetry(ctx context.Context, segment audio.Segment, wavData []byte, language string) (string, error) {
	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := c.config.Backoff << (attempt - 1)
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			c.logger.Debug("Retrying recognition request",
				slog.String("segment_id", segment.ID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoffTime),
				slog.String("error", lastErr.Error()))

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return "", NewServiceError(providerHTTP, 0, ctx.Err())
			}
		}

		response, err := c.doRequest(ctx, segment, wavData, language)
		if err == nil {
			text := strings.TrimSpace(response.Text)
			if text == "" {
				return "", ErrNoMatch
			}
			return text, nil
		}

		lastErr = err

		if !isRetryable(ctx, err) {
			break
		}
	}

	return "", lastErr
}

// doRequest performs a single HTTP request to the transcription API
func (c *Client) doRequest(ctx context.Context, segment audio.Segment, wavData []byte, language string) (*TranscriptionResponse, error) {
	body, contentType, err := c.createMultipartRequest(segment, wavData, language)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "VozLivre-Relay/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewServiceError(providerHTTP, 0, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewServiceError(providerHTTP, 0, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewServiceError(providerHTTP, resp.StatusCode,
			fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(respBody))))
	}

	var transcriptionResp TranscriptionResponse
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return nil, NewServiceError(providerHTTP, resp.StatusCode, fmt.Errorf("failed to parse response JSON: %w", err))
	}

	return &transcriptionResp, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(segment audio.Segment, wavData []byte, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", segment.ID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	duration := float64(segment.Len()) / float64(c.config.Format.BytesPerSecond())

	fields := map[string]string{
		"segment_id":      segment.ID,
		"source":          segment.Source,
		"sample_rate":     fmt.Sprintf("%d", c.config.Format.SampleRate),
		"bit_depth":       fmt.Sprintf("%d", c.config.Format.BitDepth),
		"duration":        fmt.Sprintf("%.3f", duration),
		"created_at":      segment.CreatedAt.Format(time.RFC3339),
		"response_format": "json",
	}

	if language != "" {
		fields["language"] = language
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryable reports whether a failed attempt should be repeated
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var svc *ServiceError
	if errors.As(err, &svc) {
		return svc.Retryable()
	}

	return false
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	return c.snapshot(providerHTTP, len(c.semaphore))
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < cap(c.semaphore); i++ {
		c.semaphore <- struct{}{}
	}

	c.httpClient.CloseIdleConnections()
	return nil
}
