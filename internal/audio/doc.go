// Package audio handles device audio: segment assembly, WAV encoding and local playback.
// It implements byte accumulation for both streaming (fixed threshold) and session
// (until the connection closes) ingest, and wraps raw 8-bit PCM in WAV for recognition.
package audio
