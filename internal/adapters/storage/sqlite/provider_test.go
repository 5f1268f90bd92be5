package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider(":memory:")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if provider == nil {
		t.Fatal("NewProvider returned nil")
	}

	var _ ports.RouteStore = provider
	var _ ports.EventStore = provider

	provider.Close()
}

func TestNewProvider_InvalidPath(t *testing.T) {
	_, err := NewProvider("/invalid/path/that/does/not/exist/test.db")
	if err == nil {
		t.Error("Expected error for invalid path")
	}
}

func TestProvider_Seed(t *testing.T) {
	provider, err := NewProvider(":memory:")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer provider.Close()
	ctx := context.Background()

	err = provider.Seed(ctx, map[string]string{
		"img-bear":     "https://placebear.com",
		"search-books": "https://openlibrary.org",
	})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	// Seeding again is an upsert
	if err := provider.Seed(ctx, map[string]string{"img-bear": "https://placebear.com/v2"}); err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}

	got, err := provider.Lookup(ctx, domain.SubdomainKey{ServiceID: "img", TenantID: "bear"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != "https://placebear.com/v2" {
		t.Errorf("Lookup = %q", got)
	}

	if _, err := provider.Lookup(ctx, domain.SubdomainKey{ServiceID: "img", TenantID: "cat"}); !errors.Is(err, domain.ErrRouteNotFound) {
		t.Errorf("Lookup(missing) error = %v", err)
	}
}

func TestProvider_SeedRejectsInvalid(t *testing.T) {
	provider, err := NewProvider(":memory:")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer provider.Close()

	tests := map[string]map[string]string{
		"bad key":         {"imgbear": "https://placebear.com"},
		"bad destination": {"img-bear": "not a url"},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			if err := provider.Seed(context.Background(), entries); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProvider_Close(t *testing.T) {
	provider, _ := NewProvider(":memory:")

	err := provider.Close()
	if err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
