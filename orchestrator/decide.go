package orchestrator

import "strings"

// Cancellation short-circuits from every suspension point.
var cancelWords = map[string]bool{
	"cancel": true,
	"abort":  true,
	"quit":   true,
}

// Decline words in metadata collection and retry contexts.
var declineWords = map[string]bool{
	"skip":    true,
	"no":      true,
	"none":    true,
	"nothing": true,
	"proceed": true,
	"decline": true,
	"stop":    true,
}

func isCancellation(text string) bool {
	return cancelWords[normalizeToken(text)]
}

func isDecline(text string) bool {
	return declineWords[normalizeToken(text)]
}

// interpretImprovement maps free text to an improvement decision. Anything
// unrecognized is returned verbatim so the handler can reject it with a
// specific message.
func interpretImprovement(text string) string {
	switch normalizeToken(text) {
	case "accept", "ok", "okay", "yes", "fine", "keep":
		return "accept"
	case "improve", "fix", "retry", "correct":
		return "improve"
	default:
		return text
	}
}

// interpretApproval maps free text to a fix-consent decision.
func interpretApproval(text string) string {
	switch normalizeToken(text) {
	case "approve", "yes", "ok", "okay", "apply":
		return "approve"
	case "skip", "no", "decline", "leave":
		return "skip"
	default:
		return text
	}
}

// interpretRetry maps free text to a retry decision.
func interpretRetry(text string) string {
	switch normalizeToken(text) {
	case "approve", "yes", "ok", "okay", "retry", "continue":
		return "approve"
	case "decline", "no", "stop":
		return "decline"
	case "cancel", "abort", "quit":
		return "cancel"
	default:
		return text
	}
}

func normalizeToken(text string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(text), ".!")))
}
