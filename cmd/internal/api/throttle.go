package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"
)

// lockoutTier locks a user out for Duration after their latest failure once
// Threshold failures are on record.
type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateWindowThrottle blocks once limit failures fall inside window.
// failures are newest first. The retry delay runs until enough of them age
// out of the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 {
		return false, 0
	}
	n := 0
	for _, at := range failures {
		if now.Sub(at) >= window {
			break
		}
		n++
	}
	if n < limit {
		return false, 0
	}
	return true, failures[limit-1].Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the heaviest tier whose threshold is
// met and whose lockout has not yet run out. failures are newest first.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	var retry time.Duration
	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		if left := failures[0].Add(tier.Duration).Sub(now); left > retry {
			retry = left
		}
	}
	return retry > 0, retry
}

func (h *Handler) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{h.cfg.LockoutSevereThreshold, h.cfg.LockoutSevereDuration},
		{h.cfg.LockoutLongThreshold, h.cfg.LockoutLongDuration},
		{h.cfg.LockoutShortThreshold, h.cfg.LockoutShortDuration},
	}
}

// checkLoginThrottle reports whether a login from ip for user must be refused
// and for how long.
func (h *Handler) checkLoginThrottle(ctx context.Context, ip net.IP, user string, now time.Time) (bool, time.Duration, error) {
	if h.failures == nil {
		return false, 0, nil
	}

	if ip != nil && h.cfg.LoginIPMax > 0 {
		recent, err := h.failures.FailuresByIP(ctx, ip, now.Add(-h.cfg.LoginIPWindow), h.cfg.LoginIPMax)
		if err != nil {
			return false, 0, err
		}
		if blocked, retry := evaluateWindowThrottle(now, recent, h.cfg.LoginIPMax, h.cfg.LoginIPWindow); blocked {
			return true, retry, nil
		}
	}

	limit := 0
	for _, tier := range h.lockoutTiers() {
		limit = max(limit, tier.Threshold)
	}
	if limit == 0 {
		return false, 0, nil
	}
	recent, err := h.failures.FailuresByUser(ctx, user, now.Add(-h.cfg.LoginUserWindow), limit)
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateProgressiveLockout(now, recent, h.lockoutTiers())
	return blocked, retry, nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
