package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/transcription"
)

func TestFakeServiceAnswersRelayClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := &fakeService{text: "ola", noMatchEvery: 2, logger: logger}

	srv := httptest.NewServer(svc.routes())
	defer srv.Close()

	client, err := transcription.NewClient(transcription.Config{
		Provider:      "http",
		Endpoint:      srv.URL + "/transcribe",
		Timeout:       5 * time.Second,
		MaxConcurrent: 1,
		Format:        audio.DeviceFormat,
	}, logger)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	seg := audio.Segment{ID: "seg-1", Data: make([]byte, 24000), CreatedAt: time.Now()}

	text, err := client.Recognize(context.Background(), seg, "pt-BR")
	if err != nil || text != "ola" {
		t.Fatalf("Expected ola, got %q (%v)", text, err)
	}

	if _, err := client.Recognize(context.Background(), seg, "pt-BR"); !errors.Is(err, transcription.ErrNoMatch) {
		t.Errorf("Expected every second request to be a no-match, got %v", err)
	}
}
