package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/imrenagi/go-file-store/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var (
		serverURL string
		owner     string
		name      string
		timeout   time.Duration
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:           "upload-client FILE",
		Short:         "Upload a file to the file store and print what the server recorded",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			// stdout carries the result
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			httpClient := &http.Client{
				Transport: &http.Transport{
					DisableKeepAlives: true,
				},
			}
			c := client.New(serverURL, httpClient)
			key, err := c.Upload(ctx, name, owner, f)
			if err != nil {
				return err
			}
			log.Debug().Str("key", key).Msg("Extracted file ID")

			out, err := c.Fetch(ctx, key)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "file store base URL")
	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded with the file")
	cmd.Flags().StringVar(&name, "name", "", "file name recorded with the file (defaults to the base name of FILE)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout for upload and fetch")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("upload failed")
	}
}
