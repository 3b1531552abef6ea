package transcription

import (
	"sync"
	"time"
)

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatsReporter is implemented by backends that keep request statistics.
type StatsReporter interface {
	GetStats() ClientStats
}

type stats struct {
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration
	active          int

	mu sync.RWMutex
}

func (s *stats) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.active++
}

func (s *stats) finish(ok bool, responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active--
	if !ok {
		s.failedRequests++
		return
	}
	s.successRequests++

	// Simple moving average
	if s.avgResponseTime == 0 {
		s.avgResponseTime = responseTime
	} else {
		s.avgResponseTime = (s.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (s *stats) GetStats() ClientStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	successRate := float64(0)
	if done := s.successRequests + s.failedRequests; done > 0 {
		successRate = float64(s.successRequests) / float64(done) * 100
	}

	return ClientStats{
		TotalRequests:   s.totalRequests,
		SuccessRequests: s.successRequests,
		FailedRequests:  s.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: s.avgResponseTime,
		ActiveRequests:  s.active,
	}
}
