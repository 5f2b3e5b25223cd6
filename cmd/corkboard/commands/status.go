package commands

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nwhit/corkboard/internal/printer"
	"github.com/nwhit/corkboard/internal/remote"
)

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show a document's remote state",
	Long: `Fetch a document from the remote store and print its version and
item counts.

Examples:
  corkboard status sprint-board
  corkboard status sprint-board --config ./corkboard.yml`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	documentID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := remote.NewHTTPStore(cfg.Remote.BaseURL, &http.Client{Timeout: cfg.Remote.Timeout.Std()})

	snap, err := store.Fetch(context.Background(), documentID)
	if err != nil {
		return printer.Error(
			"Could not reach the document store",
			err.Error(),
			[]string{
				"Check that the server is running: corkboard serve",
				"Check remote.base_url in corkboard.yml",
			})
	}

	live := 0
	tombstones := 0
	for _, it := range snap.Items {
		if it.Deleted {
			tombstones++
		} else {
			live++
		}
	}

	printer.Printf("Document:   %s\n", documentID)
	printer.Printf("Version:    %d\n", snap.Version)
	printer.Printf("Items:      %d live, %d deleted\n", live, tombstones)
	return nil
}
