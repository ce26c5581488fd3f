// Package oauth provides generic token refresh scheduling for providers whose
// tokens are persisted in a token store. It performs jittered checks and
// refreshes when expiry falls within a configured window, so uploads never
// start with a token about to expire.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// TokenStore is the persistence surface the refresher needs. Satisfied by
// youtubeapi.FileTokenStore and ledger.PGStore.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, raw string, err error)
}

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, error)

// StartRefresher launches a goroutine that periodically checks a stored token
// and refreshes it when its remaining lifetime drops inside window.
// provider: key in the token store.
// interval: how often to wake up and check.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (plus or minus 20% of interval).
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			checkOnce(ctx, store, provider, window, fn)
		}
	}()
}

func checkOnce(ctx context.Context, store TokenStore, provider string, window time.Duration, fn RefreshFunc) {
	_, rt, exp, raw, err := store.GetOAuthToken(ctx, provider)
	if err != nil || rt == "" {
		return
	}
	// If still outside window skip quickly
	if time.Until(exp) > window {
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	if newRT == "" {
		newRT = rt
	}
	if err := store.UpsertOAuthToken(ctx, provider, newAT, newRT, newExp, raw); err != nil {
		slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.String("provider", provider))
}
