package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/braintrap/internal/policy"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/spf13/cobra"
)

var (
	focusApps   []string
	focusMethod string
)

var focusCmd = &cobra.Command{
	Use:   "focus [on|off]",
	Short: "Show or change focus mode",
	Long: `Show focus mode, or switch it on or off. While focus mode is on the listed
apps are blocked regardless of their time limits. With bolt storage this only
works while the service is stopped; use focus and blocked_apps bridge events
on a running service. With redis storage a running service picks up changes
on SIGHUP.`,
	Example: `  braintrap focus
  braintrap focus on -apps com.example.game,com.example.video
  braintrap focus on -unlock nfc
  braintrap focus off`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runFocus,
}

func init() {
	focusCmd.Flags().StringSliceVar(&focusApps, "apps", nil, "Replace the blocked app list")
	focusCmd.Flags().StringVar(&focusMethod, "unlock", "", "Unlock method: math, nfc or both")
	rootCmd.AddCommand(focusCmd)
}

func runFocus(cmd *cobra.Command, args []string) error {
	cfg, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	engine := policy.NewEngine(store.Limits(), store.Settings(), nil, policy.Config{HostAppID: cfg.Engine.HostAppID}, quietLogger())
	if err := engine.LoadFocusMode(ctx); err != nil {
		return fmt.Errorf("failed to load focus mode: %w", err)
	}

	if len(args) == 1 {
		switch args[0] {
		case "on", "off":
			if err := engine.SetFocusMode(ctx, args[0] == "on"); err != nil {
				return fmt.Errorf("failed to save focus mode: %w", err)
			}
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
	}
	if cmd.Flags().Changed("apps") {
		if err := engine.SetBlockedApps(ctx, focusApps); err != nil {
			return fmt.Errorf("failed to save blocked apps: %w", err)
		}
	}
	if focusMethod != "" {
		method, err := storage.ParseUnlockMethod(strings.ToLower(focusMethod))
		if err != nil {
			return err
		}
		if err := store.Settings().Put(ctx, storage.SettingUnlockMethod, string(method)); err != nil {
			return fmt.Errorf("failed to save unlock method: %w", err)
		}
	}

	method, err := storage.LoadUnlockMethod(ctx, store.Settings())
	if err != nil {
		return fmt.Errorf("failed to load unlock method: %w", err)
	}
	printFocus(engine.FocusMode(), method)
	return nil
}

func printFocus(state policy.FocusModeState, method storage.UnlockMethod) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	cyan.Print("Focus mode: ")
	if state.Active {
		red.Println("ON")
	} else {
		green.Println("OFF")
	}
	fmt.Printf("Unlock:     %s\n", method)
	if len(state.Blocked) == 0 {
		fmt.Println("Blocked:    (none)")
		return
	}
	fmt.Printf("Blocked:    %s\n", strings.Join(state.Blocked, ", "))
}
