package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"livenote/internal/server"
)

var (
	serveAddr    string
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the vault with live snippets",
	Long: `Starts the live preview server. Each note is served at /doc/<path>; snippet
events, retries and theme changes travel over a websocket, and edits to the
vault re-render open pages.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch the vault for changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveNoWatch {
		cfg.Server.Watch = false
	}
	docs, err := openVault()
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, docs)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		_ = srv.Close()
		return err
	}

	ctx, cancel := commandContext(0)
	defer cancel()

	logger.Info("serving", zap.String("vault", vaultDir), zap.String("url", "http://"+srv.Addr()))
	cmd.Printf("livenote serving %s at http://%s\n", vaultDir, srv.Addr())
	return srv.Run(ctx)
}
