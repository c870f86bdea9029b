package rag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/callyx/callyx/pkg/types"
)

// StopSequences terminate generation before the model starts inventing the
// caller's next line. The conversation history is rendered inline with
// "User:" / "Assistant:" labels, so these are the natural runaway points.
var StopSequences = []string{"\nUser:", "\nAssistant:", "User:"}

// emptyContextLine is rendered when retrieval produced nothing relevant.
const emptyContextLine = "No specific context found."

// Input collects everything that shapes one generation prompt.
type Input struct {
	// AgentPrompt is the agent's configured system prompt, with dynamic
	// variables already substituted.
	AgentPrompt string

	// Vars are the dynamic variables from the carrier start event, listed in
	// the prompt so the model can reference caller details.
	Vars map[string]string

	// History is the turn window included in the prompt, oldest first. The
	// caller limits it to the configured history window.
	History []types.Turn

	// Context is the retrieved knowledge block; empty when nothing relevant
	// was found.
	Context string

	// Utterance is what the caller just said.
	Utterance string
}

// Build renders the system prompt and message list for one turn.
//
// The system prompt carries the agent identity, the live-call speaking
// directives, the grounding rule binding answers to the knowledge context,
// the caller variables, the context block, and the inline conversation
// history. The utterance itself travels as the single user message.
//
// Build is pure: no I/O, no side effects, safe for concurrent use.
func Build(in Input) (string, []types.Message) {
	var sb strings.Builder

	agent := strings.TrimSpace(in.AgentPrompt)
	if agent == "" {
		agent = "You are a helpful voice assistant."
	}
	sb.WriteString(agent)

	sb.WriteString("\n\n## Call Context\n")
	sb.WriteString("You are on a live phone call with a real person.\n")
	sb.WriteString("- Answer ONLY from the knowledge base context below.\n")
	sb.WriteString("- If the context does not contain the answer, say you don't have that information.\n")
	sb.WriteString("- Keep responses brief and conversational: one or two sentences.\n")
	sb.WriteString("- No stage directions, no markdown, no lists.")

	if vars := formatVars(in.Vars); vars != "" {
		sb.WriteString("\n\n## Customer Information\n")
		sb.WriteString(vars)
	}

	sb.WriteString("\n\n## Knowledge Base Context\n")
	if strings.TrimSpace(in.Context) != "" {
		sb.WriteString(in.Context)
	} else {
		sb.WriteString(emptyContextLine)
	}

	if len(in.History) > 0 {
		sb.WriteString("\n\n## Conversation History\n")
		sb.WriteString(types.FormatTranscript(in.History))
	}

	messages := []types.Message{{Role: "user", Content: in.Utterance}}
	return sb.String(), messages
}

// formatVars renders the non-empty dynamic variables as bullet lines, sorted
// by key so prompts are deterministic.
func formatVars(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k, v := range vars {
		if strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- **%s**: %s", k, vars[k])
	}
	return sb.String()
}
