package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/refuturo/refuturo/internal/keys"
)

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
	}

	cmd.AddCommand(
		newKeysSetCmd(app),
		newKeysShowCmd(app),
		newKeysDeleteCmd(app),
	)

	return cmd
}

func newKeysSetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set [key]",
		Short: "Store the API key (prompts when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) > 0 {
				key = args[0]
			} else {
				fmt.Fprint(app.Out, "Enter API key: ")
				reader := bufio.NewReader(app.In)
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("failed to read key: %w", err)
				}
				key = strings.TrimSpace(line)
			}
			if key == "" {
				return fmt.Errorf("key cannot be empty")
			}

			store, err := keys.NewStore()
			if err != nil {
				return err
			}
			if err := store.Set(providerName, key); err != nil {
				return err
			}

			fmt.Fprintf(app.Out, "Stored key %s in %s\n", keys.MaskKey(key), store.Path())
			return nil
		},
	}
}

func newKeysShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored API key (masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := keys.NewStore()
			if err != nil {
				return err
			}
			key, err := store.Get(providerName)
			if err != nil {
				return err
			}
			if key == "" {
				fmt.Fprintln(app.Out, "No key stored")
				return nil
			}
			fmt.Fprintf(app.Out, "%s (%s)\n", keys.MaskKey(key), store.Path())
			return nil
		},
	}
}

func newKeysDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := keys.NewStore()
			if err != nil {
				return err
			}
			if err := store.Delete(providerName); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, "Key deleted")
			return nil
		},
	}
}
