package claude

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/randalmurphal/claudeagent/claude/session"
)

const cliName = "claude"

// FindCLI locates the claude executable: PATH first, then the usual npm,
// yarn and local install locations. It returns an error wrapping
// session.ErrCLINotFound when nothing is found.
func FindCLI() (string, error) {
	home, _ := os.UserHomeDir()
	return findCLI(exec.LookPath, home)
}

func findCLI(lookPath func(string) (string, error), home string) (string, error) {
	if path, err := lookPath(cliName); err == nil {
		return path, nil
	}

	locations := []string{"/usr/local/bin/" + cliName}
	if home != "" {
		locations = []string{
			filepath.Join(home, ".npm-global", "bin", cliName),
			"/usr/local/bin/" + cliName,
			filepath.Join(home, ".local", "bin", cliName),
			filepath.Join(home, "node_modules", ".bin", cliName),
			filepath.Join(home, ".yarn", "bin", cliName),
			filepath.Join(home, ".claude", "local", cliName),
		}
	}
	for _, loc := range locations {
		if info, err := os.Stat(loc); err == nil && !info.IsDir() {
			return loc, nil
		}
	}
	return "", fmt.Errorf("%w: install it with npm install -g @anthropic-ai/claude-code, or set the path explicitly", session.ErrCLINotFound)
}
