package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/calendar"
	"github.com/ifuryst/cadence/internal/metrics"
	"github.com/ifuryst/cadence/internal/service"
)

// publishDueCmd runs a single pass of the scheduled-publish trigger, for
// deployments that drive publishing from an external cron.
func publishDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish-due",
		Short: "Publish every scheduled item whose time has passed, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, err := setup()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			db, err := service.NewDatabase(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			publisher := service.NewPublisherService(
				service.NewGormStore(db),
				appLogger,
				metrics.NewNop(),
				service.NewMonitoringService(db, appLogger),
				nil,
			)
			report, err := publisher.PublishDue(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d due items failed to publish", len(report.Failed), report.Due)
			}
			return nil
		},
	}
}

func calendarCmd() *cobra.Command {
	var (
		start string
		weeks int
	)
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print the weekly calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, err := setup()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			if weeks <= 0 {
				return fmt.Errorf("--weeks must be positive")
			}

			loc := cfg.Calendar.Location()
			from := calendar.DayOf(time.Now(), loc)
			if start != "" {
				if from, err = calendar.ParseDate(start, loc); err != nil {
					return err
				}
			}

			db, err := service.NewDatabase(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			svc := service.NewCalendarService(service.NewGormStore(db), calendar.Aggregator{
				Location: loc,
				Themes:   cfg.Calendar.Themes,
				MaxWeeks: cfg.Calendar.MaxWeeks,
			}, appLogger)
			view, err := svc.View(cmd.Context(), from, from.AddDate(0, 0, weeks*7-1))
			if err != nil {
				return err
			}
			if len(view.Invalid) > 0 {
				appLogger.Warn("Items with inconsistent dates were left out", zap.Uints("item_ids", view.Invalid))
			}

			renderCalendar(os.Stdout, view.View, loc)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&weeks, "weeks", 4, "number of weeks to show")
	return cmd
}

func totpSecretCmd() *cobra.Command {
	var (
		issuer  string
		account string
	)
	cmd := &cobra.Command{
		Use:   "totp-secret",
		Short: "Generate a TOTP secret for admin login",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, url, err := service.GenerateSecret(issuer, account)
			if err != nil {
				return err
			}
			fmt.Printf("Secret: %s\n", secret)
			fmt.Printf("URL:    %s\n", url)
			fmt.Println("Set auth.totp_secret to the secret and add the URL to an authenticator app.")
			return nil
		},
	}
	cmd.Flags().StringVar(&issuer, "issuer", "Cadence", "issuer shown in the authenticator app")
	cmd.Flags().StringVar(&account, "account", "admin", "account name shown in the authenticator app")
	return cmd
}
