package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewReportsCmd groups maintenance commands for pending score reports.
func NewReportsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Manage pending score reports",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Redeliver due pending score reports once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return drainReports(cmd.Context(), *configPath)
		},
	})
	return cmd
}

func drainReports(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// the in-memory outbox is empty in a fresh process
	if cfg.Postgres.URL == "" && cfg.Redis.Addr == "" {
		return errNoDurableOutbox
	}

	d, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close()

	stats, err := d.dispatcher.DrainOnce(ctx)
	if err != nil {
		return fmt.Errorf("drain pending reports: %w", err)
	}
	log.WithFields(logrus.Fields{
		"delivered":   stats.Delivered,
		"reconciled":  stats.Reconciled,
		"rescheduled": stats.Rescheduled,
		"dropped":     stats.Dropped,
	}).Info("pending reports drained")
	return nil
}
