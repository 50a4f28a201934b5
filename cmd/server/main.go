package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/imrenagi/go-file-store/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Serve file uploads and downloads backed by MongoDB GridFS",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := server.NewViper(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			cfg, err := server.LoadConfig(v)
			if err != nil {
				return err
			}

			if err := server.InitializeLogger(cfg.LogLevel); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.Opts{Config: cfg})
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "optional config file (yaml, json, toml)")
	server.RegisterFlags(cmd.Flags())

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to run the server")
	}
}
