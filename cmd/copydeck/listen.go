package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Follow real-time content updates",
	Long:  "Open the real-time channel and print a line for every namespace the\nserver reports as changed, until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		events, cancel := sdk.Subscribe()
		defer cancel()

		if err := sdk.StartListening(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "connect failed, retrying: %v\n", err)
		}

		fmt.Println("Listening for updates (ctrl-c to stop)...")
		for {
			select {
			case <-ctx.Done():
				return nil
			case ns, ok := <-events:
				if !ok {
					return nil
				}
				fmt.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), ns)
			}
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project and cache status",
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		authed := "no"
		if err := sdk.Authenticate(ctx); err == nil {
			authed = "yes"
		}

		fmt.Printf("authenticated: %s\n", authed)
		fmt.Printf("locale:        %s\n", sdk.Language())
		fmt.Printf("tabs:          %v\n", sdk.KnownTabs())
		fmt.Printf("stores:        %v\n", sdk.KnownStores())
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe the local content cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		sdk.ClearCache()
		fmt.Println("Cache cleared.")
		return nil
	},
}
