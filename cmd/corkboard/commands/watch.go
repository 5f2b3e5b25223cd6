package commands

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nwhit/corkboard/internal/broadcast"
	"github.com/nwhit/corkboard/internal/cache"
	"github.com/nwhit/corkboard/internal/config"
	"github.com/nwhit/corkboard/internal/engine"
	"github.com/nwhit/corkboard/internal/logging"
	"github.com/nwhit/corkboard/internal/printer"
	"github.com/nwhit/corkboard/internal/remote"
)

var watchCmd = &cobra.Command{
	Use:   "watch <document-id>",
	Short: "Follow a document as it syncs",
	Long: `Open a document with the full sync stack — local cache, remote
store, and cross-session broadcast when Redis is configured — and print
every state change until interrupted.

Useful for watching edits from other sessions arrive, and for observing
the offline/syncing/synced transitions while toggling connectivity.

Examples:
  corkboard watch sprint-board`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	documentID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	deps, cleanup, err := buildDeps(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	session := engine.NewSession(deps, engine.Config{
		SaveDebounce: cfg.Sync.SaveDebounce.Std(),
		PushDebounce: cfg.Sync.PushDebounce.Std(),
		PollInterval: cfg.Sync.PollInterval.Std(),
	})
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := session.Open(ctx, documentID)
	if err != nil {
		return err
	}

	printer.Step("Watching %s (Ctrl-C to stop)\n", documentID)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastVersion int64 = -1
	var lastStatus engine.Status
	for {
		select {
		case <-ctx.Done():
			printer.Info("\nClosing document...\n")
			return nil
		case <-ticker.C:
			st, err := eng.State(ctx)
			if err != nil {
				return nil // engine closed under us
			}
			if st.Version == lastVersion && st.Status == lastStatus {
				continue
			}
			lastVersion = st.Version
			lastStatus = st.Status

			live := 0
			for _, it := range st.Items {
				if !it.Deleted {
					live++
				}
			}
			printer.Printf("[%s] version=%d items=%d status=%s\n",
				time.Now().Format("15:04:05"), st.Version, live, printer.Status(string(st.Status)))
		}
	}
}

// buildDeps assembles the engine's collaborators from configuration. The
// returned cleanup closes whatever was opened, in reverse order.
func buildDeps(cfg *config.Config, log *zap.Logger) (engine.Deps, func(), error) {
	deps := engine.Deps{Log: log}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		// The cache is best-effort; run without it rather than refuse to open.
		printer.Warning("Local cache unavailable (%v), continuing without it\n", err)
		log.Warn("cache open failed", zap.Error(err))
	} else {
		closers = append(closers, func() { db.Close() })
		deps.Cache = cache.New(db, log)
	}

	deps.Store = remote.NewHTTPStore(cfg.Remote.BaseURL, &http.Client{Timeout: cfg.Remote.Timeout.Std()})

	if cfg.Redis != nil {
		bus, err := broadcast.NewRedis(&redis.Options{Addr: cfg.Redis.Addr}, cfg.Redis.Namespace)
		if err != nil {
			cleanup()
			return engine.Deps{}, nil, err
		}
		closers = append(closers, func() { bus.Close() })
		deps.Bus = bus
	}

	return deps, cleanup, nil
}
