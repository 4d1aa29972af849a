package ratelimit

import (
	"errors"
	"time"

	"github.com/Proton-105/topup-bot/pkg/config"
)

// Rules resolves configured limits for the payment conversation.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// IsWhitelisted reports whether the user bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	for _, id := range r.config.Whitelist {
		if id == userID {
			return true
		}
	}
	return false
}

// PerUserLimit returns the per-user limit and window.
func (r *Rules) PerUserLimit() (int, time.Duration, error) {
	if r.config.PerUser.Window == "" {
		return 0, 0, errors.New("window duration is not set")
	}

	window, err := time.ParseDuration(r.config.PerUser.Window)
	if err != nil {
		return 0, 0, err
	}

	return r.config.PerUser.Limit, window, nil
}
