package utils

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func RunWithBreaker(cb *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	return err
}

func NewBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
