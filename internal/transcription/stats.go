package transcription

import (
	"sync"
	"time"
)

// ClientStats represents recognizer statistics
type ClientStats struct {
	Provider        string        `json:"provider"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	NoMatchRequests uint64        `json:"no_match_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// requestStats is shared by the recognizer backends
type requestStats struct {
	totalRequests   uint64
	successRequests uint64
	noMatchRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

func (s *requestStats) incrementTotalRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
}

func (s *requestStats) incrementSuccessRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successRequests++
}

func (s *requestStats) incrementNoMatchRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noMatchRequests++
}

func (s *requestStats) incrementFailedRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedRequests++
}

func (s *requestStats) incrementTotalRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRetries++
}

func (s *requestStats) updateAvgResponseTime(responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Simple moving average
	if s.avgResponseTime == 0 {
		s.avgResponseTime = responseTime
	} else {
		s.avgResponseTime = (s.avgResponseTime + responseTime) / 2
	}
}

// record counts the result of one Recognize call
func (s *requestStats) record(text string, err error, elapsed time.Duration) {
	switch Classify(text, err).Kind {
	case OutcomeText:
		s.incrementSuccessRequests()
		s.updateAvgResponseTime(elapsed)
	case OutcomeNoMatch:
		s.incrementNoMatchRequests()
		s.updateAvgResponseTime(elapsed)
	default:
		s.incrementFailedRequests()
	}
}

func (s *requestStats) snapshot(provider string, active int) ClientStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	successRate := float64(0)
	if s.totalRequests > 0 {
		successRate = float64(s.successRequests+s.noMatchRequests) / float64(s.totalRequests) * 100
	}

	return ClientStats{
		Provider:        provider,
		TotalRequests:   s.totalRequests,
		SuccessRequests: s.successRequests,
		NoMatchRequests: s.noMatchRequests,
		FailedRequests:  s.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    s.totalRetries,
		AvgResponseTime: s.avgResponseTime,
		ActiveRequests:  active,
	}
}
