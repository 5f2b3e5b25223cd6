package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nwhit/corkboard/internal/engine"
	"github.com/nwhit/corkboard/internal/logging"
	"github.com/nwhit/corkboard/internal/printer"
	"github.com/nwhit/corkboard/pkg/board"
)

var (
	addKind    string
	addContent string
	addColor   string
	addAuthor  string
	addX       float64
	addY       float64
)

var addCmd = &cobra.Command{
	Use:   "add <document-id>",
	Short: "Add an item to a board",
	Long: `Add a note, image, or text label to a board and sync it.

The item id is generated. The command waits until the edit has reached the
remote store, or reports that it was saved locally for a later sync when
the store is unreachable.

Examples:
  corkboard add sprint-board --content "Review venue contract"
  corkboard add sprint-board --kind image --content "https://example.com/plan.png" --x 120 --y 80`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addKind, "kind", "note", "Item kind: note, image, or text")
	addCmd.Flags().StringVar(&addContent, "content", "", "Item content (note text, image URL, or label)")
	addCmd.Flags().StringVar(&addColor, "color", "", "Item color")
	addCmd.Flags().StringVar(&addAuthor, "author", "", "Author attribution")
	addCmd.Flags().Float64Var(&addX, "x", 0, "Horizontal position")
	addCmd.Flags().Float64Var(&addY, "y", 0, "Vertical position")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	documentID := args[0]

	item := board.Item{
		ID:      uuid.New().String(),
		Kind:    board.Kind(addKind),
		X:       addX,
		Y:       addY,
		Content: addContent,
		Color:   addColor,
		Author:  addAuthor,
	}
	if err := item.Kind.Validate(); err != nil {
		return err
	}

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

	if err := eng.Upsert(ctx, item); err != nil {
		return err
	}

	// Give the push debounce and one round-trip a chance to finish before
	// falling back to "saved locally".
	status, err := awaitSettle(ctx, eng, item.ID, 10*time.Second)
	if err != nil {
		return err
	}

	switch status {
	case engine.StatusSynced:
		printer.Success("Added %s %s to %s\n", addKind, item.ID, documentID)
	default:
		printer.Warning("Added %s locally; the store is unreachable, it will sync later\n", item.ID)
	}
	return nil
}

// awaitSettle polls until the new item is visible and the engine has left the
// syncing state, or the timeout passes. The visibility check guards against
// reading a stale "synced" before the mutation has been applied.
func awaitSettle(ctx context.Context, eng *engine.Engine, itemID string, timeout time.Duration) (engine.Status, error) {
	deadline := time.Now().Add(timeout)
	for {
		st, err := eng.State(ctx)
		if err != nil {
			return "", err
		}
		visible := false
		for _, it := range st.Items {
			if it.ID == itemID {
				visible = true
				break
			}
		}
		if (visible && st.Status != engine.StatusSyncing) || time.Now().After(deadline) {
			return st.Status, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("interrupted")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
