package report

import (
	"strings"
	"time"

	"logrca/internal/logs"
)

// Sections are the headers every report carries, in order.
var Sections = []string{
	"# Summary",
	"# Timeline",
	"# Root Cause",
	"# Contributing Factors",
	"# Impact",
	"# Affected Components",
	"# Recommended Fix",
	"# Preventive Actions",
}

const systemPrompt = "You are a senior SRE. Generate a professional RCA report in clean Markdown format. " +
	"Use the following exact sections with detailed, actionable content:\n\n" +
	"# Summary\n" +
	"- Provide a brief overview of the incident and key findings.\n\n" +
	"# Timeline\n" +
	"- List 5-10 key events in chronological order using format: `- **YYYY-MM-DD HH:MM:SS** - [Level] - Logger: Message`\n" +
	"- Use **bold** for timestamps and levels.\n\n" +
	"# Root Cause\n" +
	"- Clearly state the primary cause with evidence from logs/context.\n\n" +
	"# Contributing Factors\n" +
	"- Bullet list of secondary factors (e.g., configuration, dependencies).\n\n" +
	"# Impact\n" +
	"- Describe the business/technical impact with metrics if available.\n\n" +
	"# Affected Components\n" +
	"- List components (e.g., services, classes) with brief descriptions.\n\n" +
	"# Recommended Fix\n" +
	"- Step-by-step remediation actions, including code/config changes.\n\n" +
	"# Preventive Actions\n" +
	"- Long-term measures like monitoring, alerts, and improvements.\n\n" +
	"Use bullet points, **bold** key terms, and keep it concise but specific. Ensure the Markdown renders well in a web UI."

const promptHeader = "You are given application logs with the same correlation ID and retrieved code/log snippets from the application source.\n" +
	"Generate a precise RCA report using the sections defined in the system message. Follow these guidelines:\n" +
	"- **Timeline**: Extract 5-10 key events in chronological order. Format each as `- **YYYY-MM-DD HH:MM:SS** - [Level] - Logger: Message` (use actual timestamps from logs).\n" +
	"- **Affected Components**: Reference package/class names from context (e.g., com.example.api.Gateway).\n" +
	"- **Recommended Fix & Preventive Actions**: Provide concrete, numbered steps for fixes and long-term measures.\n" +
	"- **Overall**: Keep it professional, use **bold** for emphasis, and ensure clean Markdown that renders well in a web UI.\n\n"

const timelineLayout = "2006-01-02 15:04:05"

// buildPrompt renders the user message: one line per event followed by at
// most limit retrieved contexts.
func buildPrompt(events []logs.Event, contexts []string, limit int) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("Logs:\n")
	for i, e := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[" + e.Timestamp.Format(time.RFC3339) + "] " + e.Level + " " + e.Logger + ": " + e.Message)
	}
	b.WriteString("\n\nRetrieved Context:\n")
	b.WriteString(strings.Join(firstN(contexts, limit), "\n---\n"))
	b.WriteString("\n")
	return b.String()
}

func firstN(s []string, n int) []string {
	if n < 0 {
		n = 0
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}
