package audio

import (
	"bytes"
	"testing"
	"time"
)

func newTestAssembler(t *testing.T, config AssemblerConfig) *Assembler {
	t.Helper()
	a, err := NewAssembler(config)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}
	return a
}

// sequentialBytes returns n bytes whose values encode their position, so
// reordering or loss shows up in comparisons.
func sequentialBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestSegmentThreshold(t *testing.T) {
	if got := SegmentThreshold(8000, 1, 8, 3*time.Second); got != 24000 {
		t.Errorf("Expected 24000 bytes for 3s of 8kHz mono 8-bit, got %d", got)
	}
	if got := SegmentThreshold(8000, 1, 16, time.Second); got != 16000 {
		t.Errorf("Expected 16000 bytes for 1s of 8kHz mono 16-bit, got %d", got)
	}
}

func TestNewAssemblerValidation(t *testing.T) {
	if _, err := NewAssembler(AssemblerConfig{Mode: ModeStreaming, Threshold: 0}); err == nil {
		t.Error("Expected error for zero streaming threshold")
	}
	if _, err := NewAssembler(AssemblerConfig{Mode: ModeSession, MaxBytes: -1}); err == nil {
		t.Error("Expected error for negative session cap")
	}
	if _, err := NewAssembler(AssemblerConfig{Mode: Mode(7)}); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestStreamingEmitsExactThresholdSegments(t *testing.T) {
	const threshold = 24000

	tests := []struct {
		name      string
		chunkSize int
		total     int
	}{
		{"three datagrams of 8000", 8000, 24000},
		{"small device chunks", 128, 72000},
		{"uneven chunks", 7000, 48000},
		{"one byte at a time", 1, 24000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssembler(t, AssemblerConfig{Mode: ModeStreaming, Threshold: threshold, Source: "dev"})
			input := sequentialBytes(tt.total)

			var out []byte
			segments := 0
			for off := 0; off < len(input); off += tt.chunkSize {
				end := off + tt.chunkSize
				if end > len(input) {
					end = len(input)
				}
				for seg := a.Feed(input[off:end]); seg != nil; seg = a.Next() {
					if seg.Len() != threshold {
						t.Fatalf("Expected segment of %d bytes, got %d", threshold, seg.Len())
					}
					if seg.Source != "dev" {
						t.Errorf("Expected source 'dev', got %q", seg.Source)
					}
					if seg.ID == "" {
						t.Error("Expected segment ID to be set")
					}
					segments++
					out = append(out, seg.Data...)
				}
			}

			if segments != tt.total/threshold {
				t.Errorf("Expected %d segments, got %d", tt.total/threshold, segments)
			}
			if !bytes.Equal(out, input) {
				t.Error("Segment bytes differ from fed bytes")
			}
			if a.Pending() != 0 {
				t.Errorf("Expected nothing pending, got %d bytes", a.Pending())
			}
		})
	}
}

func TestStreamingLargeChunkDrainsWithNext(t *testing.T) {
	a := newTestAssembler(t, AssemblerConfig{Mode: ModeStreaming, Threshold: 100})
	input := sequentialBytes(350)

	first := a.Feed(input)
	if first == nil {
		t.Fatal("Expected a segment from a chunk larger than the threshold")
	}
	second := a.Next()
	third := a.Next()
	if second == nil || third == nil {
		t.Fatal("Expected Next to return the remaining full segments")
	}
	if a.Next() != nil {
		t.Error("Expected no fourth segment")
	}
	if a.Pending() != 50 {
		t.Errorf("Expected 50 pending bytes, got %d", a.Pending())
	}

	joined := append(append(append([]byte{}, first.Data...), second.Data...), third.Data...)
	if !bytes.Equal(joined, input[:300]) {
		t.Error("Segments are not the in-order prefix of the input")
	}
}

func TestStreamingFinishDiscardsRemainder(t *testing.T) {
	a := newTestAssembler(t, AssemblerConfig{Mode: ModeStreaming, Threshold: 100})
	a.Feed(sequentialBytes(40))

	if seg := a.Finish(); seg != nil {
		t.Error("Expected streaming Finish to produce no segment")
	}
	if a.Dropped() != 40 {
		t.Errorf("Expected 40 dropped bytes, got %d", a.Dropped())
	}
}

func TestSessionEmitsOnlyOnFinish(t *testing.T) {
	a := newTestAssembler(t, AssemblerConfig{Mode: ModeSession, MaxBytes: 80000})
	input := sequentialBytes(30000)

	for off := 0; off < len(input); off += 1000 {
		if seg := a.Feed(input[off : off+1000]); seg != nil {
			t.Fatal("Session mode must not emit before Finish")
		}
	}

	seg := a.Finish()
	if seg == nil {
		t.Fatal("Expected a segment on Finish")
	}
	if !bytes.Equal(seg.Data, input) {
		t.Error("Session segment differs from the accumulated bytes")
	}

	// nothing accumulated since the last emission
	if seg := a.Finish(); seg != nil {
		t.Error("Expected no segment from a second Finish")
	}
}

func TestSessionEmptyFinish(t *testing.T) {
	a := newTestAssembler(t, AssemblerConfig{Mode: ModeSession})
	a.Feed(nil)
	a.Feed([]byte{})

	if seg := a.Finish(); seg != nil {
		t.Errorf("Expected no segment for an empty session, got %d bytes", seg.Len())
	}
}

func TestSessionCapTruncates(t *testing.T) {
	a := newTestAssembler(t, AssemblerConfig{Mode: ModeSession, MaxBytes: 100})
	input := sequentialBytes(160)

	a.Feed(input[:60])
	a.Feed(input[60:120])
	a.Feed(input[120:])

	seg := a.Finish()
	if seg == nil {
		t.Fatal("Expected a segment on Finish")
	}
	if seg.Len() != 100 {
		t.Errorf("Expected segment capped at 100 bytes, got %d", seg.Len())
	}
	if !bytes.Equal(seg.Data, input[:100]) {
		t.Error("Expected the capped segment to keep the first bytes")
	}
	if a.Dropped() != 60 {
		t.Errorf("Expected 60 dropped bytes, got %d", a.Dropped())
	}

	stats := a.GetStats()
	if stats.BytesFed != 160 || stats.Segments != 1 || stats.Mode != "session" {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSegmentDataIsIndependentOfInput(t *testing.T) {
	a := newTestAssembler(t, AssemblerConfig{Mode: ModeSession})
	input := []byte{1, 2, 3}
	a.Feed(input)
	input[0] = 99

	seg := a.Finish()
	if seg.Data[0] != 1 {
		t.Error("Segment must not alias caller buffers")
	}
}
