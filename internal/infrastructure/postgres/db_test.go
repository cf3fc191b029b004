package postgres

import (
	"context"
	"testing"
)

func TestNewPoolWithConfigInvalidURL(t *testing.T) {
	if _, err := NewPoolWithConfig(context.Background(), PoolConfig{DatabaseURL: "not-a-url"}); err == nil {
		t.Fatalf("expected error when parsing invalid URL")
	}
}

func TestNewPoolWithConfigPingFailure(t *testing.T) {
	cfg := PoolConfig{
		DatabaseURL: "postgres://invalid:5432/db?connect_timeout=1",
		MaxConns:    1,
	}

	if _, err := NewPoolWithConfig(context.Background(), cfg); err == nil {
		t.Fatalf("expected error when pool cannot connect")
	}
}
