package agentx

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt renders the agent instructions around a tool list.
func DefaultSystemPrompt(m Markers, tools string) string {
	var sb strings.Builder
	sb.WriteString("You are a deep research assistant. Answer the user's question by reasoning step by step and calling tools to gather evidence.\n\n")
	fmt.Fprintf(&sb, "Think inside %s...%s before acting.\n", m.ThinkOpen, m.ThinkClose)
	fmt.Fprintf(&sb, "To call a tool, emit %s{\"name\": \"<tool name>\", \"arguments\": {...}}%s. You may issue several calls in one turn; they run in order.\n", m.CallOpen, m.CallClose)
	fmt.Fprintf(&sb, "Tool results come back inside %s...%s.\n", m.ResponseOpen, m.ResponseClose)
	fmt.Fprintf(&sb, "When you are confident, give the final answer inside %s...%s.\n", m.AnswerOpen, m.AnswerClose)
	if tools != "" {
		sb.WriteString("\nAvailable tools:\n")
		sb.WriteString(tools)
	}
	return sb.String()
}

func nudgePrompt(m Markers) string {
	return fmt.Sprintf("Continue. Either call a tool with %s...%s or give the final answer inside %s...%s.",
		m.CallOpen, m.CallClose, m.AnswerOpen, m.AnswerClose)
}

func finalizePrompt(m Markers) string {
	return fmt.Sprintf("You have run out of turns. Stop calling tools and answer now, using everything gathered so far. Give your best final answer inside %s...%s.",
		m.AnswerOpen, m.AnswerClose)
}
