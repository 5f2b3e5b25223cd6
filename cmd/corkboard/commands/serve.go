package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nwhit/corkboard/internal/logging"
	"github.com/nwhit/corkboard/internal/printer"
	"github.com/nwhit/corkboard/internal/remote"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference document server",
	Long: `Run the reference document server: an in-memory store behind the
versioned document API that corkboard clients speak.

Intended for local development and testing. Documents are created on first
write and lost when the process exits.

Examples:
  # Serve on the default address
  corkboard serve

  # Serve on a specific port
  corkboard serve --addr :9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8473", "Listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	srv := &http.Server{
		Addr:    serveAddr,
		Handler: remote.NewServer(remote.NewMemoryStore(), log),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	printer.Success("Document server listening on %s\n", serveAddr)
	log.Info("server started", zap.String("addr", serveAddr))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	printer.Info("Shutting down...\n")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	printer.Success("Server stopped\n")
	return nil
}
