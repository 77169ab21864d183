package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BackoffBase: time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 5 * time.Millisecond}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	var retried []int
	got, err := Retry(context.Background(), fastRetry(2), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("503"))
		}
		return "ok", nil
	}, func(attempt int, _ error) { retried = append(retried, attempt) })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, retried)
}

func TestRetry_FatalStopsImmediately(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, NewFatalError(errors.New("401"))
	}, nil)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(2), func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("429"))
	}, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, calls)
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 3, BackoffBase: time.Hour}
	_, err := Retry(ctx, cfg, func(context.Context) (int, error) {
		cancel()
		return 0, NewTransientError(errors.New("503"))
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_CapsAtMax(t *testing.T) {
	cfg := RetryConfig{BackoffBase: time.Second, BackoffMultiplier: 10, MaxBackoff: 3 * time.Second}
	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 3*time.Second, cfg.Backoff(2))
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		transient bool
		fatal     bool
		config    bool
	}{
		{"ok", http.StatusOK, "", false, false, false},
		{"rate limited", http.StatusTooManyRequests, "2", true, false, false},
		{"server error", http.StatusBadGateway, "", true, false, false},
		{"unauthorized", http.StatusUnauthorized, "", false, true, true},
		{"forbidden", http.StatusForbidden, "", false, true, true},
		{"bad request", http.StatusBadRequest, "", false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"x"}`))
			}))
			defer srv.Close()
			resp, err := http.Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			err = CheckResponse(resp)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.fatal, IsFatal(err))
			assert.Equal(t, tt.config, models.IsKind(err, models.KindConfiguration))
			if tt.header != "" {
				var te *TransientError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, 2*time.Second, te.RetryAfter)
			}
		})
	}
}

func TestCredentials_Key(t *testing.T) {
	t.Setenv("KOTAE_PROVIDER_TEST_KEY", "env-key")
	ctx := context.Background()

	k, err := Credentials{EnvVar: "KOTAE_PROVIDER_TEST_KEY"}.Key(ctx)
	require.NoError(t, err)
	assert.Equal(t, "env-key", k)

	k, err = Credentials{Explicit: "cfg-key", EnvVar: "KOTAE_PROVIDER_TEST_KEY"}.Key(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cfg-key", k)

	k, err = Credentials{Explicit: "cfg-key"}.Key(models.WithAPIKey(ctx, "header-key"))
	require.NoError(t, err)
	assert.Equal(t, "header-key", k)

	_, err = Credentials{EnvVar: "KOTAE_PROVIDER_UNSET_KEY"}.Key(ctx)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfiguration))
}

func TestLimiter_NilNeverBlocks(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
	assert.Nil(t, NewLimiter(0))
	assert.NoError(t, NewLimiter(100).Wait(context.Background()))
}
