package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/drinkits/attachment-architect/internal/api"
	"github.com/drinkits/attachment-architect/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring HTTP server",
	Long: `Serve the read-only status API and Prometheus metrics, and run the
scheduled retention cleanup. Scans themselves still run through the
'scan' command; serve only observes the shared database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		sched := scheduler.New()
		if err := sched.ScheduleCleanup(cfg.CleanupSchedule, st, cfg.CleanupKeepDays); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := api.New(cfg.HTTPAddr, st, nil, sched, registry, version)
		return srv.Run(ctx)
	},
}
