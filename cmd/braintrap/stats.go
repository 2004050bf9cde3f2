package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/braintrap/internal/stats"
	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show time saved, streaks and achievements",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	_, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	calc := stats.NewCalculator(store, stats.DefaultLookbackDays, quietLogger())
	summary, err := calc.Summary(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	printSummary(summary)
	return nil
}

func printSummary(s stats.Summary) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	faint := color.New(color.Faint)

	fmt.Println()
	cyan.Println("TIME SAVED")
	fmt.Printf("  Today:      %s\n", formatMinutes(s.TimeSaved.TodayMinutes))
	fmt.Printf("  This week:  %s\n", formatMinutes(s.TimeSaved.WeekMinutes))
	fmt.Printf("  This month: %s\n", formatMinutes(s.TimeSaved.MonthMinutes))

	fmt.Println()
	cyan.Println("STREAKS")
	fmt.Printf("  Challenges:  %d days (longest %d)\n", s.ChallengeStreak.Current, s.ChallengeStreak.Longest)
	fmt.Printf("  Under limit: %d days (longest %d)\n", s.UnderLimitStreak.Current, s.UnderLimitStreak.Longest)

	unlocked := make(map[string]bool, len(s.Unlocked))
	for _, u := range s.Unlocked {
		unlocked[u.ID] = true
	}

	fmt.Println()
	cyan.Printf("ACHIEVEMENTS (%d/%d)\n", len(s.Unlocked), len(stats.Achievements))
	for _, a := range stats.Achievements {
		if unlocked[a.ID] {
			green.Printf("  ★ %-16s %s\n", a.Title, a.Description)
			continue
		}
		value := min(s.Progress.Value(a.Metric), a.Requirement)
		faint.Printf("  ☆ %-16s %s (%d/%d)\n", a.Title, a.Description, value, a.Requirement)
	}
	fmt.Println()
}

func formatMinutes(m int64) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", m/60, m%60)
}
