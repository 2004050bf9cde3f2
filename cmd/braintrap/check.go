package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/policy"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/goodtune/braintrap/internal/usage"
	"github.com/spf13/cobra"
)

var (
	checkDay  string
	checkTime string
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] APP_ID",
	Short: "Check the blocking decision for an app",
	Long: `Check what BrainTrap would decide if APP_ID came to the foreground. Usage
comes from the stored record for that day; nothing is intercepted.`,
	Example: `  braintrap -c config.yaml check com.example.video
  braintrap check -day saturday -time 18:30 com.example.video`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	rootCmd.AddCommand(checkCmd)
}

// storedSource answers usage queries from the stored records. A day with
// no record counts as zero minutes.
type storedSource struct {
	usage storage.UsageStore
}

func (s storedSource) QueryForegroundMinutes(ctx context.Context, appID string, start, _ time.Time) (int64, error) {
	record, err := s.usage.GetDailyUsage(ctx, storage.DateKey(start), appID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.UsedMinutes, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	appID := args[0]

	// Parse time (if provided)
	var at time.Time
	var err error
	if checkDay != "" || checkTime != "" {
		at, err = parseCheckTime(checkDay, checkTime)
		if err != nil {
			return fmt.Errorf("invalid time specification: %w", err)
		}
	} else {
		at = time.Now()
	}

	cfg, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	logger := quietLogger()
	ctx := context.Background()

	usageService := usage.NewService(store.Usage(), store.Limits(), storedSource{usage: store.Usage()}, usage.Config{}, logger)
	usageService.SetClock(&fixedClock{now: at})

	engine := policy.NewEngine(store.Limits(), store.Settings(), usageService, policy.Config{
		HostAppID:         cfg.Engine.HostAppID,
		UsageQueryTimeout: parseDuration(cfg.Engine.UsageQueryTimeout, policy.DefaultUsageQueryTimeout),
	}, logger)
	engine.SetClock(&fixedClock{now: at})
	if err := engine.LoadFocusMode(ctx); err != nil {
		return fmt.Errorf("failed to load focus mode: %w", err)
	}

	decision := engine.Check(ctx, appID, at)

	var limit *storage.TimeLimit
	if l, err := store.Limits().Get(ctx, appID); err == nil {
		limit = l
	}

	printCheckResult(appID, at, decision, limit)
	return nil
}

// printCheckResult prints the check result with colors
func printCheckResult(appID string, at time.Time, decision policy.Decision, limit *storage.TimeLimit) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("BLOCKING DECISION CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("App:        %s\n", appID)
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
	if limit != nil {
		state := "enabled"
		if !limit.Enabled {
			state = "disabled"
		}
		fmt.Printf("Limit:      %d minutes today (%s)\n", limit.LimitFor(at.Weekday()), state)
	} else {
		fmt.Printf("Limit:      (none)\n")
	}
	fmt.Println()

	cyan.Print("Decision:   ")
	switch decision.Verdict {
	case policy.VerdictAllow:
		green.Println("ALLOW")
		fmt.Println("            → App stays in the foreground")
	case policy.VerdictBlockQuota:
		red.Println("BLOCK_QUOTA")
		fmt.Println("            → App will be sent home")
		fmt.Println("            → A challenge unlocks bonus time")
	case policy.VerdictBlockFocus:
		red.Println("BLOCK_FOCUS_MODE")
		fmt.Println("            → App will be sent home")
		fmt.Println("            → Focus mode unlock applies")
	default:
		fmt.Printf("%s\n", decision.Verdict)
	}

	fmt.Printf("Reason:     %s\n", decision.Reason)
	if decision.LimitMinutes > 0 {
		yellow.Printf("Usage:      %d of %d minutes\n", decision.UsedMinutes, decision.LimitMinutes)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// parseCheckTime parses day and time flags into a time.Time
func parseCheckTime(dayStr, timeStr string) (time.Time, error) {
	return parseCheckTimeFrom(time.Now(), dayStr, timeStr)
}

func parseCheckTimeFrom(now time.Time, dayStr, timeStr string) (time.Time, error) {
	// Parse time (HH:MM)
	hour := now.Hour()
	minute := now.Minute()

	if timeStr != "" {
		parts := strings.Split(timeStr, ":")
		if len(parts) != 2 {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format")
		}

		if _, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute); err != nil {
			return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
		}

		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return time.Time{}, fmt.Errorf("invalid time: hour must be 0-23, minute must be 0-59")
		}
	}

	// Parse day of week
	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	// Calculate target date
	daysUntilTarget := int(targetDay - now.Weekday())
	if daysUntilTarget < 0 {
		daysUntilTarget += 7
	}

	targetDate := now.AddDate(0, 0, daysUntilTarget)
	return time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), hour, minute, 0, 0, now.Location()), nil
}

// fixedClock pins the engine to the checked instant
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func (c *fixedClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return clock.RealClock{}.AfterFunc(d, f)
}
