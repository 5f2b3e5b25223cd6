package scaffold

import (
	"fmt"
	"os"

	"github.com/nwhit/corkboard/internal/config"
)

// CheckExisting returns an error when corkboard.yml already exists, so init
// does not silently clobber a configured project.
func CheckExisting() error {
	if _, err := os.Stat(config.DefaultPath); err == nil {
		return fmt.Errorf(`project already initialized

Found existing: %s

Use 'corkboard init --force' to reinitialize (this will overwrite existing configuration)`, config.DefaultPath)
	}
	return nil
}
