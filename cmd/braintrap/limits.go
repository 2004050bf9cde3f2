package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/spf13/cobra"
)

// timeNow is replaced in tests.
var timeNow = time.Now

var (
	limitMinutes  int
	limitWeekday  int
	limitWeekend  int
	limitDisabled bool
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage per-app daily time limits",
	Long: `Manage per-app daily time limits in the configured store. With bolt storage
the running service holds the database, so these commands only work while it
is stopped; change limits on a running service with limit_set and
limit_delete bridge events. With redis storage a running service picks up
changes within its limit cache TTL, or on SIGHUP.`,
}

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured time limits with today's usage",
	Args:  cobra.NoArgs,
	RunE:  runLimitsList,
}

var limitsSetCmd = &cobra.Command{
	Use:   "set [flags] APP_ID",
	Short: "Create or replace the time limit for an app",
	Example: `  braintrap limits set -minutes 60 com.example.video
  braintrap limits set -minutes 60 -weekend 120 com.example.video
  braintrap limits set -minutes 30 -disabled com.example.chat`,
	Args: cobra.ExactArgs(1),
	RunE: runLimitsSet,
}

var limitsDeleteCmd = &cobra.Command{
	Use:   "delete APP_ID",
	Short: "Remove the time limit for an app",
	Args:  cobra.ExactArgs(1),
	RunE:  runLimitsDelete,
}

func init() {
	limitsSetCmd.Flags().IntVar(&limitMinutes, "minutes", 0, "Daily limit in minutes (required)")
	limitsSetCmd.Flags().IntVar(&limitWeekday, "weekday", -1, "Monday-Friday override in minutes")
	limitsSetCmd.Flags().IntVar(&limitWeekend, "weekend", -1, "Saturday-Sunday override in minutes")
	limitsSetCmd.Flags().BoolVar(&limitDisabled, "disabled", false, "Store the limit without enforcing it")
	_ = limitsSetCmd.MarkFlagRequired("minutes")

	limitsCmd.AddCommand(limitsListCmd)
	limitsCmd.AddCommand(limitsSetCmd)
	limitsCmd.AddCommand(limitsDeleteCmd)
	rootCmd.AddCommand(limitsCmd)
}

func runLimitsList(cmd *cobra.Command, args []string) error {
	_, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	limits, err := store.Limits().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list limits: %w", err)
	}
	if len(limits) == 0 {
		fmt.Println("No time limits configured.")
		return nil
	}
	sort.Slice(limits, func(i, j int) bool { return limits[i].AppID < limits[j].AppID })

	records, err := store.Usage().ListDailyUsage(ctx, storage.DateKey(timeNow()))
	if err != nil {
		return fmt.Errorf("failed to list usage: %w", err)
	}
	used := make(map[string]int64, len(records))
	for _, r := range records {
		used[r.AppID] = r.UsedMinutes
	}

	printLimits(limits, used)
	return nil
}

func printLimits(limits []storage.TimeLimit, used map[string]int64) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)

	weekday := timeNow().Weekday()
	cyan.Printf("%-40s %8s %8s %8s %8s\n", "APP", "DAILY", "WEEKDAY", "WEEKEND", "TODAY")
	for _, l := range limits {
		line := fmt.Sprintf("%-40s %8d %8s %8s %8s",
			l.AppID, l.DailyLimitMinutes, optionalMinutes(l.WeekdayLimitMinutes), optionalMinutes(l.WeekendLimitMinutes),
			fmt.Sprintf("%d/%d", used[l.AppID], l.LimitFor(weekday)))
		switch {
		case !l.Enabled:
			faint.Println(line + "  (disabled)")
		case used[l.AppID] >= int64(l.LimitFor(weekday)):
			red.Println(line)
		default:
			green.Println(line)
		}
	}
}

func optionalMinutes(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func runLimitsSet(cmd *cobra.Command, args []string) error {
	limit := storage.TimeLimit{
		AppID:             args[0],
		DailyLimitMinutes: limitMinutes,
		Enabled:           !limitDisabled,
	}
	if limitWeekday >= 0 {
		limit.WeekdayLimitMinutes = &limitWeekday
	}
	if limitWeekend >= 0 {
		limit.WeekendLimitMinutes = &limitWeekend
	}
	if err := limit.Validate(); err != nil {
		return err
	}

	cfg, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Limits().Upsert(context.Background(), limit); err != nil {
		return fmt.Errorf("failed to save limit: %w", err)
	}
	fmt.Printf("✅ Limit saved for %s: %d minutes/day\n", limit.AppID, limit.DailyLimitMinutes)
	if cfg.Storage.Type == "redis" {
		fmt.Println("   A running service picks this up within its limit cache TTL, or on SIGHUP.")
	}
	return nil
}

func runLimitsDelete(cmd *cobra.Command, args []string) error {
	_, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Limits().Delete(context.Background(), args[0])
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no limit configured for %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to delete limit: %w", err)
	}
	fmt.Printf("✅ Limit removed for %s\n", args[0])
	return nil
}
