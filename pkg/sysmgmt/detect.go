package sysmgmt

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// DetectPlatform returns the platform string for the local host.
func DetectPlatform() (string, error) {
	switch runtime.GOOS {
	case "windows", "linux":
		return runtime.GOOS, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", runtime.GOOS)
	}
}

// NewManager builds the collaborator set for the given platform.
func NewManager(platform string, runner Runner) (*Manager, error) {
	switch platform {
	case "windows":
		return NewWindowsManager(runner), nil
	case "linux":
		return NewLinuxManager(runner), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}
}

// IsElevated reports whether the current process has administrative
// rights on the target. Mutating device, driver and network state
// requires elevation on both platforms.
func IsElevated(ctx context.Context, platform string, runner Runner) bool {
	switch platform {
	case "windows":
		// `net session` fails with access denied for non-administrators.
		return runner.Run(ctx, "net", "session").Ok()
	case "linux":
		if _, ok := runner.(*LocalRunner); ok {
			return os.Geteuid() == 0
		}
		res := runner.Run(ctx, "id", "-u")
		return res.Ok() && strings.TrimSpace(res.Output) == "0"
	default:
		return false
	}
}
