package driver

import "strings"

// Reference: https://code.claude.com/docs/en/settings#tools-available-to-claude
//
// Bash permission patterns that try to constrain command arguments are
// fragile and should not be relied upon as a security boundary — flag
// reordering, pipes, and subshells can all bypass a glob pattern. This
// list exists for visibility and to avoid round-tripping routine read-only
// tool calls through the PermissionBridge, not as a sandboxing mechanism.
var (
	// AllowedTools is passed as --allowedTools; these are auto-approved
	// without a PermissionBridge round trip.
	AllowedTools = []string{
		"Glob",
		"Grep",
		"Read",
		"Edit",
		"Write",
		"WebFetch",
		"WebSearch",

		"Bash(ls *)",
		"Bash(cat *)",
		"Bash(head *)",
		"Bash(tail *)",
		"Bash(wc *)",
		"Bash(find *)",
		"Bash(pwd)",
		"Bash(which *)",
		"Bash(echo *)",
		"Bash(git *)",
	}

	// DisallowedTools is passed as --disallowedTools. Deny rules take
	// precedence over allow rules.
	DisallowedTools = []string{
		"Bash(rm -rf *)",
		"Bash(sudo *)",
	}
)

// IsToolAllowed reports whether a tool call should be auto-approved
// without going through the PermissionBridge.
func IsToolAllowed(toolName string, input map[string]any) bool {
	if toolName == "Bash" {
		command, ok := input["command"].(string)
		if !ok || command == "" {
			return false
		}
		for _, pattern := range DisallowedTools {
			if matchBashPattern(pattern, command) {
				return false
			}
		}
		for _, pattern := range AllowedTools {
			if matchBashPattern(pattern, command) {
				return true
			}
		}
		return false
	}

	for _, allowed := range AllowedTools {
		if strings.HasPrefix(allowed, "Bash(") {
			continue
		}
		if allowed == toolName {
			return true
		}
	}
	return false
}

// matchBashPattern checks command against a "Bash(pattern)" glob entry.
// Returns false if pattern isn't a Bash entry.
func matchBashPattern(pattern, command string) bool {
	if !strings.HasPrefix(pattern, "Bash(") || !strings.HasSuffix(pattern, ")") {
		return false
	}
	cmdPattern := pattern[5 : len(pattern)-1]

	if !strings.Contains(cmdPattern, "*") {
		return command == cmdPattern
	}

	if strings.HasSuffix(cmdPattern, " *") {
		prefix := cmdPattern[:len(cmdPattern)-2]
		return command == prefix || strings.HasPrefix(command, prefix+" ")
	}
	if strings.HasSuffix(cmdPattern, "*") {
		prefix := cmdPattern[:len(cmdPattern)-1]
		return strings.HasPrefix(command, prefix)
	}

	parts := strings.SplitN(cmdPattern, "*", 2)
	if len(parts) == 2 {
		return strings.HasPrefix(command, parts[0]) && strings.HasSuffix(command, parts[1])
	}
	return false
}
