package printer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestStatus(t *testing.T) {
	t.Run("colors known statuses", func(t *testing.T) {
		require.Contains(t, Status("synced"), "synced")
		require.Contains(t, Status("syncing"), "syncing")
		require.Contains(t, Status("offline"), "offline")
	})

	t.Run("passes unknown statuses through", func(t *testing.T) {
		require.Equal(t, "mystery", Status("mystery"))
	})
}

// Note: Error prints formatted output to stderr with colors. The returned
// error only contains the title for Cobra's error handling, to avoid
// duplicate output while providing rich formatted errors.
