package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Create temp config file
	content := `
server:
  hostname: "segments.test.com"

api:
  listen_addr: ":9080"
  api_key: "test-api-key"
  read_timeout: 15s

database:
  path: "/tmp/segmentry.db"
  snapshots_path: "/tmp/members.db"

segments:
  workers: 2
  stale_after: 1h

metrics:
  enabled: true
  listen_addr: ":9191"

logging:
  level: "debug"
  format: "text"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check values
	if cfg.Server.Hostname != "segments.test.com" {
		t.Errorf("Hostname = %v, want segments.test.com", cfg.Server.Hostname)
	}
	if cfg.API.ListenAddr != ":9080" {
		t.Errorf("API.ListenAddr = %v, want :9080", cfg.API.ListenAddr)
	}
	if cfg.API.APIKey != "test-api-key" {
		t.Errorf("API.APIKey = %v, want test-api-key", cfg.API.APIKey)
	}
	if cfg.API.ReadTimeout != 15*time.Second {
		t.Errorf("API.ReadTimeout = %v, want 15s", cfg.API.ReadTimeout)
	}
	if cfg.Database.Path != "/tmp/segmentry.db" {
		t.Errorf("Database.Path = %v, want /tmp/segmentry.db", cfg.Database.Path)
	}
	if cfg.Segments.Workers != 2 {
		t.Errorf("Segments.Workers = %v, want 2", cfg.Segments.Workers)
	}
	if cfg.Segments.StaleAfter != time.Hour {
		t.Errorf("Segments.StaleAfter = %v, want 1h", cfg.Segments.StaleAfter)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.ListenAddr != ":9191" {
		t.Errorf("Metrics.ListenAddr = %v, want :9191", cfg.Metrics.ListenAddr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
api:
  api_key: "k"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check defaults
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.API.ReadTimeout != 30*time.Second {
		t.Errorf("API.ReadTimeout = %v, want 30s", cfg.API.ReadTimeout)
	}
	if cfg.Database.Path != "/var/lib/segmentry/segmentry.db" {
		t.Errorf("Database.Path = %v, want /var/lib/segmentry/segmentry.db", cfg.Database.Path)
	}
	if cfg.Segments.Workers != 4 {
		t.Errorf("Segments.Workers = %v, want 4", cfg.Segments.Workers)
	}
	if cfg.Segments.StaleAfter != 0 {
		t.Errorf("Segments.StaleAfter = %v, want 0", cfg.Segments.StaleAfter)
	}
	if cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("Metrics.ListenAddr = %v, want :9090", cfg.Metrics.ListenAddr)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "a.db", SnapshotsPath: "b.db"},
				Segments: SegmentsConfig{Workers: 4},
				Logging:  LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			cfg: Config{
				Database: DatabaseConfig{Path: "a.db", SnapshotsPath: "b.db"},
				Segments: SegmentsConfig{Workers: 4},
				Logging:  LoggingConfig{Level: "invalid", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			cfg: Config{
				Database: DatabaseConfig{Path: "a.db", SnapshotsPath: "b.db"},
				Segments: SegmentsConfig{Workers: 4},
				Logging:  LoggingConfig{Level: "info", Format: "invalid"},
			},
			wantErr: true,
		},
		{
			name: "zero workers",
			cfg: Config{
				Database: DatabaseConfig{Path: "a.db", SnapshotsPath: "b.db"},
				Segments: SegmentsConfig{Workers: 0},
				Logging:  LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "negative stale_after",
			cfg: Config{
				Database: DatabaseConfig{Path: "a.db", SnapshotsPath: "b.db"},
				Segments: SegmentsConfig{Workers: 4, StaleAfter: -time.Hour},
				Logging:  LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "database paths collide",
			cfg: Config{
				Database: DatabaseConfig{Path: "a.db", SnapshotsPath: "a.db"},
				Segments: SegmentsConfig{Workers: 4},
				Logging:  LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	content := `invalid: yaml: content: [`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}
