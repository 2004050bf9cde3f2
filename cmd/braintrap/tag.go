package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/braintrap/internal/tags"
	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage the NFC tag that unlocks focus mode",
	Long: `Manage the NFC tag that unlocks focus mode. The registered tag is read on
every scan, so with redis storage changes apply to a running service at once.
With bolt storage use tag_register and tag_clear bridge events while the
service is running.`,
}

var tagRegisterCmd = &cobra.Command{
	Use:     "register TAG_ID",
	Short:   "Register the unlock tag, replacing any previous one",
	Example: `  braintrap tag register 04:A2:19:B1:7C:5E:80`,
	Args:    cobra.ExactArgs(1),
	RunE:    runTagRegister,
}

var tagShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the registered unlock tag",
	Args:  cobra.NoArgs,
	RunE:  runTagShow,
}

var tagClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the registered unlock tag",
	Args:  cobra.NoArgs,
	RunE:  runTagClear,
}

func init() {
	tagCmd.AddCommand(tagRegisterCmd)
	tagCmd.AddCommand(tagShowCmd)
	tagCmd.AddCommand(tagClearCmd)
	rootCmd.AddCommand(tagCmd)
}

func runTagRegister(cmd *cobra.Command, args []string) error {
	_, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := tags.NewRegistry(store.Settings(), quietLogger()).RegisterTag(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("✅ Registered tag %s\n", id)
	return nil
}

func runTagShow(cmd *cobra.Command, args []string) error {
	_, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := tags.NewRegistry(store.Settings(), quietLogger()).Registered(context.Background())
	if errors.Is(err, tags.ErrNoTag) {
		fmt.Println("No tag registered.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runTagClear(cmd *cobra.Command, args []string) error {
	_, store, err := openFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := tags.NewRegistry(store.Settings(), quietLogger()).Clear(context.Background()); err != nil {
		return err
	}
	fmt.Println("✅ Tag cleared")
	return nil
}
