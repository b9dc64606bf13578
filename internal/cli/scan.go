package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/drinkits/attachment-architect/internal/api"
	"github.com/drinkits/attachment-architect/internal/metrics"
	"github.com/drinkits/attachment-architect/internal/report"
	"github.com/drinkits/attachment-architect/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a full attachment audit",
	Long: `Scan every issue matched by the configured filters, hash each
attachment, and write duplicate reports to the output directory.

Interrupting with Ctrl-C checkpoints the scan; pick it up later with
'architect resume <scan-id>'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jql, _ := cmd.Flags().GetString("jql")
		serve, _ := cmd.Flags().GetBool("serve")
		return runScan(scan.Options{JQL: jql}, serve)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <scan-id>",
	Short: "Resume an interrupted scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		return runScan(scan.Options{ResumeID: args[0]}, serve)
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Verify Jira connectivity and credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		client, err := newJiraClient(cfg)
		if err != nil {
			return err
		}
		if err := client.TestConnection(cmd.Context()); err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
		fmt.Printf("Connected to %s\n", cfg.Jira.BaseURL)
		return nil
	},
}

func init() {
	scanCmd.Flags().String("jql", "", "Override the configured filters with a raw JQL query")
	scanCmd.Flags().Bool("serve", false, "Serve the status API while the scan runs")
	resumeCmd.Flags().Bool("serve", false, "Serve the status API while the scan runs")
}

func runScan(opts scan.Options, serve bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	client, err := newJiraClient(cfg)
	if err != nil {
		return err
	}

	if opts.JQL == "" && opts.ResumeID == "" {
		opts.JQL = buildJQL(cfg)
	}

	progress := &scan.Progress{}
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	engine := scan.NewEngine(client, engineConfig(cfg), progress, m)
	scanner := scan.NewScanner(client, engine, st, scannerConfig(cfg), progress, m)

	// Ctrl-C cancels the context; the scanner checkpoints and exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serve {
		srv := api.New(cfg.HTTPAddr, st, progress, nil, registry, version)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("status server stopped", "error", err)
			}
		}()
	}

	res, err := scanner.Scan(ctx, opts)
	if errors.Is(err, context.Canceled) {
		fmt.Println("\nScan interrupted; checkpoint saved. Resume with 'architect list' + 'architect resume <scan-id>'.")
		return nil
	}
	if err != nil {
		return err
	}

	printSummary(res)

	rep := report.New(res)
	paths, err := rep.Write(cfg.OutputDir, cfg.OutputFormats)
	if err != nil {
		return fmt.Errorf("write reports: %w", err)
	}
	fmt.Println("\nReports:")
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

func printSummary(res *scan.Result) {
	s := res.Stats
	fmt.Printf("\nScan %s finished in %s\n", res.State.ScanID, res.State.Duration.Round(time.Second))
	fmt.Printf("  Issues scanned:   %d\n", res.State.ProcessedIssues)
	fmt.Printf("  Attachments:      %d (%s)\n", s.TotalFiles, humanize.IBytes(uint64(s.TotalSize)))
	wastePct := 0.0
	if s.TotalSize > 0 {
		wastePct = float64(s.DuplicateSize) / float64(s.TotalSize) * 100
	}
	fmt.Printf("  Duplicates:       %d (%s wasted, %.1f%% of attachment storage)\n",
		s.DuplicateFiles, humanize.IBytes(uint64(s.DuplicateSize)), wastePct)
	if s.DegradedFiles > 0 {
		fmt.Printf("  Degraded matches: %d (URL-based, content not verified)\n", s.DegradedFiles)
	}
	if len(res.QuickWins) > 0 {
		fmt.Println("\nQuick wins:")
		for i, qw := range res.QuickWins {
			fmt.Printf("  %d. %s: %d extra copies, %s wasted\n",
				i+1, qw.FileName, qw.DuplicateCount, humanize.IBytes(uint64(qw.TotalWastedSpace)))
		}
	}
}
