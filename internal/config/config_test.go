package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL == "" {
		t.Fatal("expected a default backend url")
	}
	if cfg.Graph.DanglingDeps != "remove" {
		t.Fatalf("dangling default = %q", cfg.Graph.DanglingDeps)
	}
	if cfg.Plans.ArchiveKeep != 20 {
		t.Fatalf("archive keep default = %d", cfg.Plans.ArchiveKeep)
	}
	if cfg.JWT.ScopeClaim != "user_id" {
		t.Fatalf("scope claim default = %q", cfg.JWT.ScopeClaim)
	}
}

func TestDurationsAcceptSecondsAndGoSyntax(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "go duration", value: "750ms", want: 750 * time.Millisecond},
		{name: "plain seconds", value: "3", want: 3 * time.Second},
		{name: "garbage falls back", value: "soon", want: 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BACKEND_TIMEOUT", tt.value)
			if got := getDuration("BACKEND_TIMEOUT", 10*time.Second); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without JWT_SECRET in production")
	}
}

func TestSyncIntervalFloor(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("SYNC_INTERVAL_SECONDS", "200ms")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a sub-second sync interval")
	}
}
