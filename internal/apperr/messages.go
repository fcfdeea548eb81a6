// ABOUTME: Presentation table mapping error kinds to user-facing messages
// ABOUTME: Used by the HTTP API when a suggestion or task request fails

package apperr

// Scope selects wording for the entity a request was about.
type Scope int

const (
	ScopeTasks Scope = iota
	ScopeSubtasks
)

const (
	msgNotConfigured   = "AI service is not properly configured. Please contact support."
	msgProjectTooLarge = "Project is too large for AI analysis. Try breaking it into smaller parts."
	msgTaskTooLarge    = "Task content is too large for AI analysis. Try simplifying the task description."
	msgMissingInput    = "Please provide all required task information before requesting suggestions."
	msgUnexpected      = "An unexpected error occurred. Please try again."
)

// UserMessage returns the text shown to an end user for err.
func UserMessage(scope Scope, err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case Configuration:
		return msgNotConfigured
	case ContextLength:
		if scope == ScopeSubtasks {
			return msgTaskTooLarge
		}
		return msgProjectTooLarge
	case InvalidArgument:
		return msgMissingInput
	}
	if msg := Message(err); msg != "" {
		return msg
	}
	return msgUnexpected
}
