package shared

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

var getRuntime = func() string { return runtime.GOOS }

// OpenBrowser opens url in the user's browser so they can grant provider consent.
//
// $BROWSER wins when set; otherwise the platform opener is used.
func OpenBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	if b := os.Getenv("BROWSER"); b != "" {
		cmd = exec.CommandContext(ctx, b, url)
	} else {
		switch rt := getRuntime(); rt {
		case "darwin":
			cmd = exec.CommandContext(ctx, "open", url)
		case "linux":
			cmd = exec.CommandContext(ctx, "xdg-open", url)
		case "windows":
			cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
		default:
			return fmt.Errorf("unsupported platform: %s", rt)
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
