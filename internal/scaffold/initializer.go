// Package scaffold creates a starter corkboard.yml for new projects.
package scaffold

import (
	"embed"
	"fmt"
	"os"

	"github.com/nwhit/corkboard/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// Initialize writes the starter corkboard.yml into the current directory.
// If force is true, an existing corkboard.yml is removed first.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	contents, err := templatesFS.ReadFile("templates/corkboard.yml.tmpl")
	if err != nil {
		return fmt.Errorf("failed to read corkboard.yml template: %w", err)
	}

	if err := os.WriteFile(config.DefaultPath, contents, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", config.DefaultPath, err)
	}

	return validateCreatedFile()
}

// handleForce removes the existing config if --force was specified
func handleForce() error {
	if _, err := os.Stat(config.DefaultPath); err == nil {
		fmt.Printf("⚠️  Removing existing %s...\n", config.DefaultPath)
		if err := os.Remove(config.DefaultPath); err != nil {
			return fmt.Errorf("failed to remove %s: %w", config.DefaultPath, err)
		}
	}
	return nil
}

// validateCreatedFile loads the written config through the real loader so a
// broken template can never ship.
func validateCreatedFile() error {
	if _, err := config.Load(config.DefaultPath); err != nil {
		return fmt.Errorf("created %s is not valid: %w", config.DefaultPath, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized corkboard project!")
	fmt.Println("\nCreated:")
	fmt.Printf("  ✓ %s\n", config.DefaultPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point remote.base_url at your document server")
	fmt.Println("  2. Run 'corkboard serve' for a local development server")
	fmt.Println("  3. Run 'corkboard watch <document-id>' to follow a board")
}
