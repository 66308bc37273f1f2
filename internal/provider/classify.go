package provider

import "strings"

// ClassifyTask guesses the task type of an inbound message from surface
// cues. It is intentionally cheap; the registry fallbacks absorb wrong
// guesses.
func ClassifyTask(message string) TaskType {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(message, "```"),
		containsAny(lower, "write a function", "fix this code", "refactor", "stack trace", "compile error", "debug"):
		return TaskCode
	case containsAny(lower, "search the web", "latest news", "look up", "what's happening", "current price"):
		return TaskWebSearch
	case containsAny(lower, "this image", "screenshot", "attached picture", "in the photo"):
		return TaskVision
	case containsAny(lower, "step by step", "prove", "reason through", "think carefully"):
		return TaskReasoning
	default:
		return TaskGeneral
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
