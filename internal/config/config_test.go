package config_test

import (
	"os"
	"testing"

	"github.com/drinkits/attachment-architect/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "architect-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(body); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "jira:\n  base_url: https://jira.example.com\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scan.PageSize != 100 {
		t.Errorf("page_size = %d, want 100", cfg.Scan.PageSize)
	}
	if cfg.Scan.Workers != 12 {
		t.Errorf("workers = %d, want 12", cfg.Scan.Workers)
	}
	if cfg.Scan.MaxFileSizeGB != 5 {
		t.Errorf("max_file_size_gb = %d, want 5", cfg.Scan.MaxFileSizeGB)
	}
	if cfg.Jira.VerifySSL == nil || !*cfg.Jira.VerifySSL {
		t.Error("verify_ssl should default to true")
	}
	if cfg.HTTPAddr == "" {
		t.Error("expected default http_addr to be set")
	}
	if cfg.CleanupSchedule == "" {
		t.Error("expected default cleanup_schedule to be set")
	}
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
jira:
  base_url: https://jira.example.com
  rate_limit: 3
  verify_ssl: false
scan:
  page_size: 50
  workers: 4
filters:
  projects: [OPS, DEV]
  date_from: "2024-01-01"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Jira.RateLimit != 3 {
		t.Errorf("rate_limit = %d, want 3", cfg.Jira.RateLimit)
	}
	if cfg.Jira.VerifySSL == nil || *cfg.Jira.VerifySSL {
		t.Error("verify_ssl false should survive defaulting")
	}
	if cfg.Scan.PageSize != 50 || cfg.Scan.Workers != 4 {
		t.Errorf("scan = %+v", cfg.Scan)
	}
	if len(cfg.Filters.Projects) != 2 || cfg.Filters.Projects[0] != "OPS" {
		t.Errorf("filters = %+v", cfg.Filters)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "jira:\n  base_url: x\nscan_paths:\n  - /tmp\n")

	if _, err := config.Load(path); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("JIRA_BASE_URL", "https://env.example.com")
	t.Setenv("JIRA_TOKEN", "env-token")

	path := writeConfig(t, "jira:\n  base_url: https://file.example.com\n  token: file-token\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Jira.BaseURL != "https://env.example.com" {
		t.Errorf("base_url = %q, want env value", cfg.Jira.BaseURL)
	}
	if cfg.Jira.Token != "env-token" {
		t.Errorf("token = %q, want env value", cfg.Jira.Token)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("JIRA_BASE_URL", "https://env.example.com")

	cfg, err := config.Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Jira.BaseURL != "https://env.example.com" {
		t.Errorf("base_url = %q, want env value", cfg.Jira.BaseURL)
	}
	if cfg.Scan.CheckpointInterval != 100 {
		t.Errorf("checkpoint_interval = %d, want 100", cfg.Scan.CheckpointInterval)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"token auth", func(c *config.Config) {
			c.Jira.BaseURL = "https://jira.example.com"
			c.Jira.Token = "t"
		}, false},
		{"basic auth", func(c *config.Config) {
			c.Jira.BaseURL = "https://jira.example.com"
			c.Jira.Username = "u"
			c.Jira.Password = "p"
		}, false},
		{"no base url", func(c *config.Config) {
			c.Jira.Token = "t"
		}, true},
		{"no credentials", func(c *config.Config) {
			c.Jira.BaseURL = "https://jira.example.com"
		}, true},
		{"username without password", func(c *config.Config) {
			c.Jira.BaseURL = "https://jira.example.com"
			c.Jira.Username = "u"
		}, true},
		{"bad output format", func(c *config.Config) {
			c.Jira.BaseURL = "https://jira.example.com"
			c.Jira.Token = "t"
			c.OutputFormats = []string{"pdf"}
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{}
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
