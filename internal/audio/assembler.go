package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mode selects when an Assembler emits a segment
type Mode int

const (
	// ModeStreaming emits a segment every time the buffer reaches the threshold
	ModeStreaming Mode = iota
	// ModeSession emits one segment per device session, on Finish
	ModeSession
)

func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModeSession:
		return "session"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Segment is one complete unit of raw audio handed to recognition.
// Data must not be modified after the segment is created.
type Segment struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Len returns the segment size in bytes
func (s *Segment) Len() int {
	return len(s.Data)
}

// AssemblerConfig contains configuration for a segment assembler
type AssemblerConfig struct {
	Mode      Mode
	Threshold int    // streaming mode segment size, bytes
	MaxBytes  int    // session mode cap, bytes; 0 disables the cap
	Source    string // device identity attached to emitted segments
}

// Assembler accumulates raw audio bytes of one device session into segments.
// An assembler belongs to exactly one session and is never shared between them.
type Assembler struct {
	config  AssemblerConfig
	buf     []byte
	dropped uint64
	emitted uint64
	total   uint64

	mu sync.Mutex
}

// AssemblerStats represents assembler statistics
type AssemblerStats struct {
	Mode         string `json:"mode"`
	BytesFed     uint64 `json:"bytes_fed"`
	BytesPending int    `json:"bytes_pending"`
	BytesDropped uint64 `json:"bytes_dropped"`
	Segments     uint64 `json:"segments"`
}

// SegmentThreshold returns the number of bytes covering d of audio in the given format
func SegmentThreshold(sampleRate, channels, bitDepth int, d time.Duration) int {
	bytesPerSecond := sampleRate * channels * (bitDepth / 8)
	return int(float64(bytesPerSecond) * d.Seconds())
}

// NewAssembler creates a new segment assembler
func NewAssembler(config AssemblerConfig) (*Assembler, error) {
	switch config.Mode {
	case ModeStreaming:
		if config.Threshold <= 0 {
			return nil, fmt.Errorf("streaming threshold must be positive, got %d", config.Threshold)
		}
	case ModeSession:
		if config.MaxBytes < 0 {
			return nil, fmt.Errorf("session cap cannot be negative, got %d", config.MaxBytes)
		}
	default:
		return nil, fmt.Errorf("unknown assembler mode %d", int(config.Mode))
	}

	capacity := config.Threshold
	if config.Mode == ModeSession {
		capacity = 8192
	}

	return &Assembler{
		config: config,
		buf:    make([]byte, 0, capacity),
	}, nil
}

// Feed appends data to the buffer. In streaming mode it returns a segment of
// exactly Threshold bytes once enough data is buffered; the remainder stays
// buffered for the next segment. In session mode it always returns nil.
func (a *Assembler) Feed(data []byte) *Segment {
	if len(data) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total += uint64(len(data))

	if a.config.Mode == ModeSession {
		room := len(data)
		if a.config.MaxBytes > 0 {
			room = a.config.MaxBytes - len(a.buf)
			if room < 0 {
				room = 0
			}
		}
		if room < len(data) {
			a.dropped += uint64(len(data) - room)
			data = data[:room]
		}
		a.buf = append(a.buf, data...)
		return nil
	}

	a.buf = append(a.buf, data...)
	if len(a.buf) < a.config.Threshold {
		return nil
	}

	// A single huge chunk can cover several thresholds; callers drain with Next.
	return a.cut(a.config.Threshold)
}

// Next returns another complete streaming segment when Feed received more
// than one threshold worth of bytes at once, or nil.
func (a *Assembler) Next() *Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.config.Mode != ModeStreaming || len(a.buf) < a.config.Threshold {
		return nil
	}
	return a.cut(a.config.Threshold)
}

// Finish ends the session. In session mode all bytes accumulated since the
// last emission become one segment (nil when nothing was accumulated). In
// streaming mode the partial remainder is discarded and nil is returned.
func (a *Assembler) Finish() *Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buf) == 0 {
		return nil
	}

	if a.config.Mode == ModeStreaming {
		a.dropped += uint64(len(a.buf))
		a.buf = a.buf[:0]
		return nil
	}

	return a.cut(len(a.buf))
}

// cut removes the first n bytes of the buffer into a new segment; caller holds mu
func (a *Assembler) cut(n int) *Segment {
	data := make([]byte, n)
	copy(data, a.buf[:n])

	remaining := copy(a.buf, a.buf[n:])
	a.buf = a.buf[:remaining]
	a.emitted++

	return &Segment{
		ID:        uuid.NewString(),
		Source:    a.config.Source,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

// Pending returns the number of buffered bytes not yet emitted
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Dropped returns the number of bytes discarded by the session cap or a streaming Finish
func (a *Assembler) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// GetStats returns current assembler statistics
func (a *Assembler) GetStats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AssemblerStats{
		Mode:         a.config.Mode.String(),
		BytesFed:     a.total,
		BytesPending: len(a.buf),
		BytesDropped: a.dropped,
		Segments:     a.emitted,
	}
}
