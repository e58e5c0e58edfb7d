package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var getLocale string

func init() {
	getCmd.PersistentFlags().StringVar(&getLocale, "locale", "", "override the active locale for this read")
	getCmd.AddCommand(getTranslationCmd)
	getCmd.AddCommand(getColorCmd)
	getCmd.AddCommand(getImageCmd)
	getCmd.AddCommand(getStoreCmd)
	rootCmd.AddCommand(getCmd)
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Read cached content",
	Long:  "Read values from the local content cache. Reads never hit the network;\nrun 'copydeck sync' first to populate the cache.",
}

var getTranslationCmd = &cobra.Command{
	Use:   "translation <tab> <key>",
	Short: "Read a translated string",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		if getLocale != "" {
			sdk.SetLanguage(cmd.Context(), getLocale, false)
		}
		fmt.Println(sdk.Translation(args[1], args[0]))
		return nil
	},
}

var getColorCmd = &cobra.Command{
	Use:   "color <key>",
	Short: "Read a theme color",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		v := sdk.ColorValue(args[0])
		if v == "" {
			return fmt.Errorf("color %q not in cache", args[0])
		}
		fmt.Println(v)
		return nil
	},
}

var getImageCmd = &cobra.Command{
	Use:   "image <key>",
	Short: "Read an image URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		v := sdk.ImageURL(args[0])
		if v == "" {
			return fmt.Errorf("image %q not in cache", args[0])
		}
		fmt.Println(v)
		return nil
	},
}

var getStoreCmd = &cobra.Command{
	Use:   "store <api-identifier>",
	Short: "List the records of a data store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		locale := sdk.Language()
		if getLocale != "" {
			locale = getLocale
		}

		items := sdk.StoreItems(args[0])
		if len(items) == 0 {
			fmt.Println("(empty)")
			return nil
		}
		for _, item := range items {
			fmt.Printf("%s:\n", item.ID)
			for name, value := range item.Fields {
				fmt.Printf("  %s = %s\n", name, value.Display(locale))
			}
		}
		return nil
	},
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the project's available languages",
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDK()
		if err != nil {
			return err
		}
		defer sdk.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		langs := sdk.AvailableLanguages(ctx)
		if len(langs) == 0 {
			fmt.Println("(none)")
			return nil
		}
		for _, l := range langs {
			fmt.Println(l)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}
