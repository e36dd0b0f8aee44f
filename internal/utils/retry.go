package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxRetries int           // Maximum number of retries
	BaseDelay  time.Duration // Base delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier

	// Retryable decides which errors are retried. Nil uses IsRetryableError.
	Retryable func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
	}
}

// SlackRetryConfig is used for Slack Web API calls. Only rate limited calls
// are retried, at most 5 attempts in total; a post that timed out may
// already have been delivered.
func SlackRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 4,
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Minute,
		Multiplier: 2.0,
		Retryable:  IsRateLimited,
	}
}

// IsRateLimited reports whether err is a Slack 429 response.
func IsRateLimited(err error) bool {
	var rateLimited *slack.RateLimitedError
	return errors.As(err, &rateLimited)
}

var permanentErrors = []string{
	"is_archived",
	"not_in_channel",
	"channel_not_found",
	"cant_invite_self",
	"already_in_channel",
	"invalid_auth",
	"not_authed",
	"account_inactive",
	"token_revoked",
	"message_not_found",
	"cant_update_message",
}

var retryableErrors = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"rate limit",
	"too many requests",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"network is unreachable",
	"slack rate limit",
	"rate_limited",
	"ratelimited",
	"429",
	"too_many_requests",
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if IsRateLimited(err) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, permanentErr := range permanentErrors {
		if strings.Contains(errStr, permanentErr) {
			return false
		}
	}
	for _, retryableErr := range retryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}

	return false
}

// GetRetryDelay calculates the appropriate delay for retrying based on error type
func GetRetryDelay(err error, attempt int, baseDelay time.Duration) time.Duration {
	if err == nil {
		return baseDelay
	}

	// Slack tells us exactly how long to wait.
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 {
		return rateLimited.RetryAfter
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too_many_requests") || strings.Contains(errStr, "ratelimited") {
		delay := time.Duration(attempt+1) * 5 * time.Second
		if delay > 5*time.Minute {
			delay = 5 * time.Minute
		}
		return delay
	}

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection") {
		delay := time.Duration(attempt+1) * 2 * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		return delay
	}

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > 2*time.Minute {
		delay = 2 * time.Minute
	}
	return delay
}

// RetryWithBackoff executes a function with exponential backoff retry logic
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	retryable := config.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := GetRetryDelay(lastErr, attempt-1, config.BaseDelay)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}

			// Server supplied delays are used as is, everything else gets jitter.
			if !IsRateLimited(lastErr) {
				delay += time.Duration(rand.Float64() * float64(delay) * 0.1)
			}

			logrus.Debugf("Retry attempt %d/%d after %v (last error: %v)",
				attempt+1, config.MaxRetries+1, delay, lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				logrus.Debugf("Operation succeeded on attempt %d", attempt+1)
			}
			return nil
		}

		lastErr = err

		if !retryable(err) {
			logrus.Debugf("Error is not retryable: %v", err)
			return err
		}

		if attempt == config.MaxRetries {
			logrus.Warnf("Max retries (%d) exceeded, giving up. Last error: %v", config.MaxRetries, err)
			break
		}

		logrus.Debugf("Attempt %d failed with retryable error: %v", attempt+1, err)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
