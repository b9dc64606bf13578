package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	Jira            Jira     `yaml:"jira"              json:"jira"`
	Scan            Scan     `yaml:"scan"              json:"scan"`
	Filters         Filters  `yaml:"filters"           json:"filters"`
	DBPath          string   `yaml:"db_path"           json:"-"`
	OutputDir       string   `yaml:"output_dir"        json:"-"`
	OutputFormats   []string `yaml:"output_formats"    json:"output_formats"`
	HTTPAddr        string   `yaml:"http_addr"         json:"-"`
	CleanupSchedule string   `yaml:"cleanup_schedule"  json:"cleanup_schedule"`
	CleanupKeepDays int      `yaml:"cleanup_keep_days" json:"cleanup_keep_days"`
	LogLevel        string   `yaml:"log_level"         json:"-"`
}

// Jira holds connection settings for the Data Center instance. Token takes
// precedence over username/password when both are set.
type Jira struct {
	BaseURL   string `yaml:"base_url"   json:"base_url"`
	Token     string `yaml:"token"      json:"-"`
	Username  string `yaml:"username"   json:"username"`
	Password  string `yaml:"password"   json:"-"`
	VerifySSL *bool  `yaml:"verify_ssl" json:"verify_ssl"`
	RateLimit int    `yaml:"rate_limit" json:"rate_limit"`
}

// Scan holds pagination, concurrency, and checkpoint knobs for the audit
// pipeline.
type Scan struct {
	PageSize               int `yaml:"page_size"                json:"page_size"`
	Workers                int `yaml:"workers"                  json:"workers"`
	MaxFileSizeGB          int `yaml:"max_file_size_gb"         json:"max_file_size_gb"`
	DownloadTimeoutSeconds int `yaml:"download_timeout_seconds" json:"download_timeout_seconds"`
	MaxRetries             int `yaml:"max_retries"              json:"max_retries"`
	CheckpointInterval     int `yaml:"checkpoint_interval"      json:"checkpoint_interval"`
	TopQuickWins           int `yaml:"top_quick_wins"           json:"top_quick_wins"`
}

// Filters narrows which issues a scan visits. All fields are optional;
// CustomJQL replaces the generated clauses entirely.
type Filters struct {
	Projects  []string `yaml:"projects"   json:"projects"`
	DateFrom  string   `yaml:"date_from"  json:"date_from"`
	DateTo    string   `yaml:"date_to"    json:"date_to"`
	CustomJQL string   `yaml:"custom_jql" json:"custom_jql"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Jira.RateLimit == 0 {
		c.Jira.RateLimit = 10
	}
	if c.Jira.VerifySSL == nil {
		verify := true
		c.Jira.VerifySSL = &verify
	}
	if c.Scan.PageSize == 0 {
		c.Scan.PageSize = 100
	}
	if c.Scan.Workers == 0 {
		c.Scan.Workers = 12
	}
	if c.Scan.MaxFileSizeGB == 0 {
		c.Scan.MaxFileSizeGB = 5
	}
	if c.Scan.DownloadTimeoutSeconds == 0 {
		c.Scan.DownloadTimeoutSeconds = 300
	}
	if c.Scan.MaxRetries == 0 {
		c.Scan.MaxRetries = 3
	}
	if c.Scan.CheckpointInterval == 0 {
		c.Scan.CheckpointInterval = 100
	}
	if c.Scan.TopQuickWins == 0 {
		c.Scan.TopQuickWins = 3
	}
	if c.DBPath == "" {
		c.DBPath = "architect.db"
	}
	if c.OutputDir == "" {
		c.OutputDir = "reports"
	}
	if len(c.OutputFormats) == 0 {
		c.OutputFormats = []string{"json", "csv", "xlsx"}
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = "0 2 * * 0"
	}
	if c.CleanupKeepDays == 0 {
		c.CleanupKeepDays = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// applyEnv overlays credentials from the environment so secrets can stay
// out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("JIRA_BASE_URL"); v != "" {
		c.Jira.BaseURL = v
	}
	if v := os.Getenv("JIRA_TOKEN"); v != "" {
		c.Jira.Token = v
	}
	if v := os.Getenv("JIRA_USERNAME"); v != "" {
		c.Jira.Username = v
	}
	if v := os.Getenv("JIRA_PASSWORD"); v != "" {
		c.Jira.Password = v
	}
}

// Validate checks that the config names a reachable instance and some form
// of credentials.
func (c *Config) Validate() error {
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url is required (or set JIRA_BASE_URL)")
	}
	if c.Jira.Token == "" && (c.Jira.Username == "" || c.Jira.Password == "") {
		return fmt.Errorf("jira credentials required: set jira.token or jira.username/jira.password")
	}
	for _, f := range c.OutputFormats {
		switch f {
		case "json", "csv", "xlsx":
		default:
			return fmt.Errorf("unknown output format %q", f)
		}
	}
	return nil
}

// Load reads and parses the YAML config file at path, then overlays
// environment credentials. If the file does not exist, Load returns a
// default Config so env-only setups work without a config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		cfg.applyEnv()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}
