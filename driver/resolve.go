package driver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ResolveExecutable locates the assistant CLI binary, first match wins:
//  1. a which-style lookup on PATH;
//  2. a locally vendored module path (node_modules/.bin relative to cwd);
//  3. a globally installed module path (~/.npm-global/bin; the npm prefix
//     actually configured on the machine is not queried);
//  4. common binary locations.
//
// override, when non-empty, short-circuits the whole policy (an explicit
// configuration always wins).
func ResolveExecutable(override, cwd string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err == nil {
			return override, nil
		}
		return "", fmt.Errorf("configured CLI path %q does not exist", override)
	}

	if path, err := exec.LookPath("claude"); err == nil {
		return path, nil
	}

	vendored := filepath.Join(cwd, "node_modules", ".bin", "claude")
	if isExecutable(vendored) {
		return vendored, nil
	}

	if globalPrefix := globalNodeModulesBin(); globalPrefix != "" {
		candidate := filepath.Join(globalPrefix, "claude")
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	for _, candidate := range commonBinaryLocations() {
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("claude CLI executable not found on PATH, in node_modules/.bin, in the global npm prefix, or in any common binary location")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

func globalNodeModulesBin() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".npm-global", "bin")
}

func commonBinaryLocations() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\nodejs\claude.cmd`,
		}
	case "darwin":
		return []string{
			"/opt/homebrew/bin/claude",
			"/usr/local/bin/claude",
		}
	default:
		return []string{
			"/usr/local/bin/claude",
			"/usr/bin/claude",
		}
	}
}
