// Package testing switches the binaries into test mode so their main
// functions return before dialing Postgres, Redis or the job queue.
// Blank-import it from a main package test.
package testing

import (
	"fmt"
	"os"

	"github.com/odyssey-erp/odyssey-grn/internal/app"
)

func init() {
	if err := Enable(); err != nil {
		panic(err)
	}
}

// Enable sets app.TestModeEnv and refreshes the cached flag so packages that
// already asked app.InTestMode see the change.
func Enable() error {
	if err := os.Setenv(app.TestModeEnv, "1"); err != nil {
		return fmt.Errorf("enable test mode: %w", err)
	}
	app.RefreshTestMode()
	return nil
}
