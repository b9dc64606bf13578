package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List past and in-progress scans",
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

		scans, err := st.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(scans) == 0 {
			fmt.Println("No scans recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCAN ID\tSTATUS\tSTARTED\tISSUES\tFILES\tSIZE")
		for _, s := range scans {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
				s.ScanID, s.Status,
				s.StartTime.Local().Format(time.DateTime),
				s.ProcessedIssues, s.TotalIssues,
				s.TotalFiles, humanize.IBytes(uint64(s.TotalSize)))
		}
		return w.Flush()
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset [scan-id]",
	Short: "Delete scan checkpoints",
	Long: `Delete the checkpoint and results of one scan, or with --all every
scan that did not complete. A reset scan cannot be resumed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("pass exactly one of a scan ID or --all")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if all {
			n, err := st.ResetIncomplete(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d incomplete scan(s).\n", n)
			return nil
		}

		if err := st.Reset(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Scan %s removed.\n", args[0])
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old completed scans",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if days == 0 {
			days = cfg.CleanupKeepDays
		}
		database, st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		n, err := st.Cleanup(cmd.Context(), days)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d scan(s) older than %d days.\n", n, days)
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("all", false, "Remove every incomplete scan")
	cleanupCmd.Flags().Int("days", 0, "Retention window in days (default from config)")
}
