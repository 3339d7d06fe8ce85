// Command fakestt is a stand-in recognition service for local runs. It
// accepts the relay's multipart WAV uploads and answers with a fixed phrase.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
)

// transcriptionResponse mirrors what the relay's http recognizer decodes
type transcriptionResponse struct {
	SegmentID string  `json:"segment_id"`
	Text      string  `json:"text"`
	Language  string  `json:"language"`
	Duration  float64 `json:"duration"`
}

type fakeService struct {
	text         string
	noMatchEvery int
	delay        time.Duration
	logger       *slog.Logger
	requests     atomic.Uint64
}

func main() {
	var (
		addr string
		svc  = &fakeService{}
	)

	cmd := &cobra.Command{
		Use:   "fakestt",
		Short: "Run a fake speech recognition service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc.logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
			svc.logger.Info("Fake recognition service listening",
				slog.String("endpoint", fmt.Sprintf("http://%s/transcribe", addr)),
				slog.String("text", svc.text),
			)
			return http.ListenAndServe(addr, svc.routes())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9000", "Listen address")
	cmd.Flags().StringVar(&svc.text, "text", "ola", "Phrase returned for every segment")
	cmd.Flags().IntVar(&svc.noMatchEvery, "no-match-every", 0, "Answer every Nth request with empty text (0 disables)")
	cmd.Flags().DurationVar(&svc.delay, "delay", 200*time.Millisecond, "Simulated processing time")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (s *fakeService) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/transcribe", s.handleTranscribe)
	return r
}

func (s *fakeService) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	wav, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(wav)
	if err != nil {
		http.Error(w, "Invalid WAV: "+err.Error(), http.StatusBadRequest)
		return
	}

	n := s.requests.Add(1)

	s.logger.Info("Transcription request",
		slog.String("segment_id", r.FormValue("segment_id")),
		slog.String("source", r.FormValue("source")),
		slog.String("filename", header.Filename),
		slog.String("language", r.FormValue("language")),
		slog.Float64("duration", info.Duration),
		slog.Int("bytes", len(wav)),
	)

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	text := s.text
	if s.noMatchEvery > 0 && n%uint64(s.noMatchEvery) == 0 {
		text = ""
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcriptionResponse{
		SegmentID: r.FormValue("segment_id"),
		Text:      text,
		Language:  r.FormValue("language"),
		Duration:  info.Duration,
	})
}
