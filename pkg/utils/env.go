package utils

import (
	"os"
	"time"
)

func ParseWithFallback(envName string, fallback string) string {
	result := os.Getenv(envName)
	if result == "" {
		result = fallback
	}

	return result
}

func ParseDurationWithFallback(envName string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(envName))
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}
