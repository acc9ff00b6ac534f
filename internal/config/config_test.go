package config

import (
	"testing"
	"time"
)

func TestDefaultConfig_Clamps(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Stream.MinAckDeadlineSeconds != 10 {
		t.Fatalf("expected min ack deadline 10, got %d", cfg.Stream.MinAckDeadlineSeconds)
	}
	if cfg.Stream.MaxAckDeadlineSeconds != 600 {
		t.Fatalf("expected max ack deadline 600, got %d", cfg.Stream.MaxAckDeadlineSeconds)
	}
	if cfg.Backoff.Initial != 100*time.Millisecond {
		t.Fatalf("expected initial backoff 100ms, got %s", cfg.Backoff.Initial)
	}
}

func TestValidate_RequiresSubscriptionAndEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing subscription/endpoint")
	}

	cfg.Stream.Subscription = "projects/p/subscriptions/s"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing endpoint")
	}

	cfg.Stream.Endpoint = "pubsub.example.com:443"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_FixesInvertedDeadlines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Subscription = "projects/p/subscriptions/s"
	cfg.Stream.Endpoint = "pubsub.example.com:443"
	cfg.Stream.MinAckDeadlineSeconds = 0
	cfg.Stream.MaxAckDeadlineSeconds = 1

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.MinAckDeadlineSeconds != 10 {
		t.Fatalf("expected min ack deadline reset to 10, got %d", cfg.Stream.MinAckDeadlineSeconds)
	}
	if cfg.Stream.MaxAckDeadlineSeconds != 600 {
		t.Fatalf("expected max ack deadline reset to 600, got %d", cfg.Stream.MaxAckDeadlineSeconds)
	}
}

func TestLoadFromEnv_OverridesSubscription(t *testing.T) {
	t.Setenv("VEGA_SUBSCRIPTION", "projects/p/subscriptions/env-sub")
	t.Setenv("VEGA_MAX_OUTSTANDING_MESSAGES", "42")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Stream.Subscription != "projects/p/subscriptions/env-sub" {
		t.Fatalf("expected env override, got %q", cfg.Stream.Subscription)
	}
	if cfg.Stream.MaxOutstandingMessages != 42 {
		t.Fatalf("expected 42, got %d", cfg.Stream.MaxOutstandingMessages)
	}
}
