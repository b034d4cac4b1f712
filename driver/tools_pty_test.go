//go:build !windows

package driver

import (
	"bufio"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/creack/pty"
)

// TestIsToolAllowedAgainstRealShell checks IsToolAllowed for each candidate
// command and then runs every allowed one in a real shell under a pty. The
// shell run only has to start: its output and exit status are not checked,
// so the allow/deny verdicts come from IsToolAllowed alone.
func TestIsToolAllowedAgainstRealShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty not supported on windows")
	}

	cases := []struct {
		command string
		allowed bool
	}{
		{"ls -la", true},
		{"git status", true},
		{"pwd", true},
		{"rm -rf /", false},
		{"sudo reboot", false},
	}

	for _, tc := range cases {
		got := IsToolAllowed("Bash", map[string]any{"command": tc.command})
		if got != tc.allowed {
			t.Errorf("IsToolAllowed(Bash, %q) = %v, want %v", tc.command, got, tc.allowed)
		}

		if !tc.allowed {
			continue
		}

		out, err := runInPty(tc.command)
		if err != nil {
			t.Fatalf("running %q in pty: %v", tc.command, err)
		}
		_ = out // neither the captured text nor the exit status is checked
	}
}

func runInPty(command string) (string, error) {
	cmd := exec.Command("sh", "-c", command)
	f, err := pty.Start(cmd)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	_ = cmd.Wait()
	return sb.String(), nil
}
