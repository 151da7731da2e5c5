package testsupport

import (
	"testing"

	"camwatch/internal/config"
	"camwatch/internal/health"
)

// MustOpenHealthStore opens a health.Store for tests and registers cleanup.
func MustOpenHealthStore(t testing.TB, cfg *config.Config) *health.Store {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store, err := health.OpenStore(cfg.HealthDBPath())
	if err != nil {
		t.Fatalf("health.OpenStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
