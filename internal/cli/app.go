package cli

import (
	"database/sql"
	"time"

	"github.com/drinkits/attachment-architect/internal/config"
	"github.com/drinkits/attachment-architect/internal/db"
	"github.com/drinkits/attachment-architect/internal/jira"
	"github.com/drinkits/attachment-architect/internal/scan"
	"github.com/drinkits/attachment-architect/internal/store"
)

// openStore opens the checkpoint database and brings the schema up to
// date. The caller owns the returned *sql.DB.
func openStore(cfg *config.Config) (*sql.DB, *store.Store, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, store.New(database), nil
}

func newJiraClient(cfg *config.Config) (*jira.Client, error) {
	verify := true
	if cfg.Jira.VerifySSL != nil {
		verify = *cfg.Jira.VerifySSL
	}
	return jira.NewClient(jira.ClientConfig{
		BaseURL:   cfg.Jira.BaseURL,
		Token:     cfg.Jira.Token,
		Username:  cfg.Jira.Username,
		Password:  cfg.Jira.Password,
		VerifySSL: verify,
		RateLimit: cfg.Jira.RateLimit,
	})
}

func engineConfig(cfg *config.Config) scan.EngineConfig {
	return scan.EngineConfig{
		Workers:     cfg.Scan.Workers,
		MaxFileSize: int64(cfg.Scan.MaxFileSizeGB) << 30,
		MaxRetries:  uint64(cfg.Scan.MaxRetries),
		Timeout:     time.Duration(cfg.Scan.DownloadTimeoutSeconds) * time.Second,
	}
}

func scannerConfig(cfg *config.Config) scan.ScannerConfig {
	return scan.ScannerConfig{
		PageSize:           cfg.Scan.PageSize,
		CheckpointInterval: cfg.Scan.CheckpointInterval,
		TopQuickWins:       cfg.Scan.TopQuickWins,
	}
}

func buildJQL(cfg *config.Config) string {
	return jira.BuildJQL(jira.Filters{
		Projects:  cfg.Filters.Projects,
		DateFrom:  cfg.Filters.DateFrom,
		DateTo:    cfg.Filters.DateTo,
		CustomJQL: cfg.Filters.CustomJQL,
	})
}
