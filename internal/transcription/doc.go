// Package transcription implements the speech recognition backends.
// Every backend satisfies Recognizer and reports failures as either ErrNoMatch
// or *ServiceError. The http backend posts WAV segments as multipart form data
// with retries and exponential backoff; the openai backend uses the Whisper API.
package transcription
