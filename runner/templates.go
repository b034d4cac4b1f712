package runner

import "fmt"

// permissionTransitionPrompt builds the fixed continuation prompt appended
// when the user changes permissionMode mid-run. The literal substring
// "now operating in <mode> mode" is relied on by callers (see S5).
func permissionTransitionPrompt(mode string) string {
	return fmt.Sprintf(
		"The user has changed your permissions mode to: %s. Please acknowledge this change and let the user know you're now operating in %s mode.",
		mode, mode,
	)
}

// exitPlanContinuationPrompt is the fixed continuation prompt appended
// after an exit_plan_mode tool_result with no error (S6).
const exitPlanContinuationPrompt = "Continue with your plan."

const cancelledByUserMessage = "Job cancelled by user"
