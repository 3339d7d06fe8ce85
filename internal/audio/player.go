package audio

import (
	"fmt"
	"os"
	"sync"
)

// Player receives raw device audio for local monitoring
type Player interface {
	Play(data []byte) error
	Close() error
}

// NopPlayer discards everything it is given
type NopPlayer struct{}

// Play implements Player
func (NopPlayer) Play([]byte) error { return nil }

// Close implements Player
func (NopPlayer) Close() error { return nil }

// FilePlayer appends raw PCM to a file, e.g. for `aplay -f U8 -r 8000 <file>`
// or `tail -f <file> | aplay -f U8 -r 8000`.
type FilePlayer struct {
	path    string
	file    *os.File
	written uint64
	closed  bool

	mu sync.Mutex
}

// NewFilePlayer opens (or creates) path for appending
func NewFilePlayer(path string) (*FilePlayer, error) {
	if path == "" {
		return nil, fmt.Errorf("playback path cannot be empty")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open playback file %s: %w", path, err)
	}

	return &FilePlayer{path: path, file: f}, nil
}

// Play appends data to the playback file
func (p *FilePlayer) Play(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("playback file %s is closed", p.path)
	}

	n, err := p.file.Write(data)
	p.written += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write playback data: %w", err)
	}
	return nil
}

// Written returns the number of bytes written so far
func (p *FilePlayer) Written() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Close closes the playback file; further Play calls fail
func (p *FilePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.file.Close()
}
