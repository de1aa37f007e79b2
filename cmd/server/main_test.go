package main

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"stockledger/backend/internal/config"
	"stockledger/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}

	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "1234"})
	if err == nil {
		t.Fatalf("expected short PIN to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrength(t *testing.T) {
	weak := []string{"123456", "654321", "000000", "777777", "112233", "12a456", "345678"}
	for _, pin := range weak {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %q to be rejected", pin)
		}
	}
	for _, pin := range []string{"739154", "402918", "5081736"} {
		if err := validatePINStrength(pin); err != nil {
			t.Fatalf("expected %q to pass, got %v", pin, err)
		}
	}
}

func TestOpenRepositoryFallsBackToMemory(t *testing.T) {
	repo, closers, err := openRepository(context.Background(), config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected in-memory store, got %T", repo)
	}
	if len(closers) != 0 {
		t.Fatalf("expected no closers for the memory store, got %d", len(closers))
	}
}
