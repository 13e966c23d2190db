package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"orderbridge/internal/app"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <provider> [orders|menu]",
		Short: "Run one sync against a provider and print the result",
		Long: `Run one sync in-process, outside the server.

Examples:
  orderbridge sync careem
  orderbridge sync talabat menu`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "orders"
			if len(args) == 2 {
				kind = args[1]
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			var out any
			switch kind {
			case "orders":
				out, err = a.Ingest.SyncOrders(ctx, args[0])
			case "menu":
				out, err = a.Ingest.SyncMenu(ctx, args[0])
			default:
				return fmt.Errorf("unknown sync kind %q (want orders or menu)", kind)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
