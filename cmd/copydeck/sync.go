package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	copydeck "github.com/copydeck/copydeck-go"
)

var (
	syncAll   bool
	syncStore string
)

func init() {
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "sync every known namespace")
	syncCmd.Flags().StringVar(&syncStore, "store", "", "sync one data store by API identifier")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync [namespace]",
	Short: "Re-fetch content namespaces into the local cache",
	Long: "Sync one namespace (a tab name, " + copydeck.NamespaceColors + " or " + copydeck.NamespaceImages + "),\n" +
		"one data store (--store), or everything known to the project (--all).",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		switch {
		case syncAll:
			sdk.SyncAll(ctx)
			fmt.Printf("Synced %d tabs, %d stores, colors and images\n",
				len(sdk.KnownTabs()), len(sdk.KnownStores()))
			return nil
		case syncStore != "":
			if !sdk.SyncStore(ctx, syncStore) {
				return fmt.Errorf("store %q failed to sync", syncStore)
			}
			fmt.Printf("Synced store %s (%d items)\n", syncStore, len(sdk.StoreItems(syncStore)))
			return nil
		case len(args) == 1:
			if !sdk.Sync(ctx, args[0]) {
				return fmt.Errorf("namespace %q failed to sync", args[0])
			}
			fmt.Printf("Synced %s\n", args[0])
			return nil
		default:
			return fmt.Errorf("specify a namespace, --store, or --all")
		}
	},
}
