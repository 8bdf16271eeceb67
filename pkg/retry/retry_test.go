package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 50*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 50ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != time.Second {
		t.Errorf("MaxBackoff = %v, want 1s", cfg.MaxBackoff)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", cfg.BackoffMultiplier)
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name         string
		attempts     int
		failures     int
		shouldRetry  func(error) bool
		wantCalls    int
		wantErr      error
		wantExhausts bool
	}{
		{
			name:      "success on first attempt",
			attempts:  3,
			failures:  0,
			wantCalls: 1,
		},
		{
			name:      "success after two failures",
			attempts:  3,
			failures:  2,
			wantCalls: 3,
		},
		{
			name:         "exhausted",
			attempts:     3,
			failures:     10,
			wantCalls:    3,
			wantErr:      errTransient,
			wantExhausts: true,
		},
		{
			name:        "non-retryable error returns immediately",
			attempts:    5,
			failures:    10,
			shouldRetry: func(error) bool { return false },
			wantCalls:   1,
			wantErr:     errTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig(tt.attempts)
			cfg.ShouldRetry = tt.shouldRetry

			calls := 0
			err := Do(context.Background(), "test", cfg, func() error {
				calls++
				if calls <= tt.failures {
					return errTransient
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want wrapping %v", err, tt.wantErr)
			}
			if got := errors.Is(err, ErrRetryExhausted); got != tt.wantExhausts {
				t.Errorf("errors.Is(err, ErrRetryExhausted) = %v, want %v", got, tt.wantExhausts)
			}
		})
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffMultiplier: 2}
	calls := 0
	err := Do(ctx, "test", cfg, func() error {
		calls++
		cancel()
		return errTransient
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want wrapping context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestConfig_Normalized(t *testing.T) {
	cfg := Config{}.normalized()
	def := DefaultConfig()

	if cfg.MaxAttempts != def.MaxAttempts || cfg.InitialBackoff != def.InitialBackoff {
		t.Errorf("zero config not normalized to defaults: %+v", cfg)
	}
	if cfg.BackoffMultiplier != def.BackoffMultiplier {
		t.Errorf("BackoffMultiplier = %v, want %v", cfg.BackoffMultiplier, def.BackoffMultiplier)
	}
}
