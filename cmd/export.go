package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/samer-khoury/mizan/config"
	"github.com/samer-khoury/mizan/internal/chat"
	"github.com/samer-khoury/mizan/internal/export"
)

func exportCMD() *cobra.Command {
	var cfgPath string
	var format string
	var outDir string

	var exp = &cobra.Command{
		Use:   "export <user-id> [session-id]",
		Short: "Export consultation sessions to json, md or yaml files",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			store, err := chat.NewRedisStore(ctx, cfg.Storage.Redis.Addr(),
				cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
			if err != nil {
				return err
			}
			exporter, err := export.NewExporter(format)
			if err != nil {
				return err
			}

			uid := args[0]
			ids := []string{}
			if len(args) == 2 {
				ids = append(ids, args[1])
			} else {
				order, err := store.Order(ctx, uid)
				if err != nil {
					return err
				}
				ids = order
			}
			for _, id := range ids {
				sess, err := store.Get(ctx, uid, id)
				if err != nil {
					return fmt.Errorf("session %s: %w", id, err)
				}
				path := filepath.Join(outDir, fmt.Sprintf("%s.%s", id, exporter.Extension()))
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				if err := exporter.Export(sess, f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			}
			return nil
		},
	}
	exp.Flags().StringVar(&format, "format", "json", "export format: json, md or yaml")
	exp.Flags().StringVar(&outDir, "out", ".", "output directory")
	exp.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return exp
}
