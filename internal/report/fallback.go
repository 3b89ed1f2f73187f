package report

import (
	"fmt"
	"strings"

	"logrca/internal/fault"
	"logrca/internal/logs"
)

func render(sections map[string][]string, trailer string) string {
	var b strings.Builder
	for i, h := range Sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(h + "\n")
		for _, line := range sections[h] {
			b.WriteString(line + "\n")
		}
	}
	if trailer != "" {
		b.WriteString("\n" + trailer)
	}
	return b.String()
}

func noLogsReport() string {
	return render(map[string][]string{
		"# Summary":              {"- No logs found for the correlation ID."},
		"# Timeline":             {"- N/A"},
		"# Root Cause":           {"- Unknown due to missing logs."},
		"# Contributing Factors": {"- Log store not configured or empty result."},
		"# Impact":               {"- Unable to diagnose issue without logs."},
		"# Affected Components":  {"- Unknown"},
		"# Recommended Fix":      {"- Verify DB_URL (or the Influx settings) and the log schema; ensure logs are written for this correlation."},
		"# Preventive Actions":   {"- Add request-scoped logging and alerts when no logs are present."},
	}, "")
}

func notConfiguredReport() string {
	return render(map[string][]string{
		"# Summary": {
			"- LLM is required but no API key is configured.",
			"- Set OPENAI_API_KEY and (optionally) OPENAI_BASE_URL to a compatible endpoint, and use a chat model in LLM_MODEL.",
		},
		"# Timeline":             {"- N/A"},
		"# Root Cause":           {"- Not analyzed: report generation requires a configured LLM."},
		"# Contributing Factors": {"- N/A"},
		"# Impact":               {"- N/A"},
		"# Affected Components":  {"- N/A"},
		"# Recommended Fix":      {"- Configure OPENAI_API_KEY, or set REQUIRE_LLM=false to use the heuristic report."},
		"# Preventive Actions":   {"- N/A"},
	}, "")
}

func diagnosticReport(err error) string {
	return render(map[string][]string{
		"# Summary": {
			"- LLM generation failed.",
			fmt.Sprintf("- Failure kind: %s", fault.KindOf(err)),
			fmt.Sprintf("- Error: %v", err),
			"- Check OPENAI_BASE_URL, OPENAI_API_KEY, and LLM_MODEL (must be a chat-capable model).",
		},
		"# Timeline":             {"- N/A"},
		"# Root Cause":           {"- Not analyzed: the LLM request did not succeed."},
		"# Contributing Factors": {"- N/A"},
		"# Impact":               {"- N/A"},
		"# Affected Components":  {"- N/A"},
		"# Recommended Fix":      {"- Fix the LLM configuration above and retry, or set REQUIRE_LLM=false to use the heuristic report."},
		"# Preventive Actions":   {"- N/A"},
	}, "")
}

// indicators returns the error and fatal events, or the events mentioning
// an exception when there are none.
func indicators(events []logs.Event) []logs.Event {
	var out []logs.Event
	for _, e := range events {
		lvl := strings.ToLower(e.Level)
		if lvl == "error" || lvl == "fatal" {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, e := range events {
		if strings.Contains(strings.ToLower(e.Message), "exception") {
			out = append(out, e)
		}
	}
	return out
}

func distinctLoggers(events []logs.Event) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range events {
		if e.Logger == "" || seen[e.Logger] {
			continue
		}
		seen[e.Logger] = true
		out = append(out, e.Logger)
	}
	return out
}

func timelineLine(e logs.Event) string {
	return fmt.Sprintf("- **%s** - [%s] - %s: %s", e.Timestamp.Format(timelineLayout), e.Level, e.Logger, e.Message)
}

func heuristicReport(events []logs.Event, contexts []string, opts Options) string {
	errs := indicators(events)
	suspects := distinctLoggers(errs)

	summary := []string{fmt.Sprintf("- Total logs analyzed: %d; errors: %d", len(events), len(errs))}
	rootCause := []string{"- Suspected failure near last ERROR/Exception; see timeline and contexts."}
	if len(errs) > 0 {
		last := errs[len(errs)-1]
		summary = append(summary, fmt.Sprintf("- Likely failing component: **%s**", last.Logger))
		rootCause = []string{fmt.Sprintf("- Suspected failure at **%s**: %s (%s)",
			last.Logger, last.Message, last.Timestamp.Format(timelineLayout))}
	} else {
		summary = append(summary, "- Likely failing component: inspect last ERROR/Exception and related logger.")
	}

	timeline := []string{}
	for i, e := range events {
		if i >= opts.TimelineLimit {
			break
		}
		timeline = append(timeline, timelineLine(e))
	}

	factors := []string{"- Insufficient caching or null checks (suspected)."}
	for _, e := range events {
		if strings.EqualFold(e.Level, "warn") || strings.EqualFold(e.Level, "warning") {
			factors = append(factors, fmt.Sprintf("- Warning from %s: %s", e.Logger, e.Message))
		}
	}

	components := []string{}
	suspected := map[string]bool{}
	for _, s := range suspects {
		suspected[s] = true
	}
	for _, l := range distinctLoggers(events) {
		if suspected[l] {
			components = append(components, fmt.Sprintf("- **%s** (suspected)", l))
		} else {
			components = append(components, "- "+l)
		}
	}
	if len(components) == 0 {
		components = []string{"- Refer to involved loggers in timeline (services/assemblers)."}
	}

	impact := "- No errors recorded; impact unclear from logs alone."
	switch {
	case saw5xx(events):
		impact = "- Request failed; user-facing 5xx observed."
	case len(errs) > 0:
		impact = "- Request failed with logged errors."
	}

	trailer := ""
	if sample := firstN(contexts, opts.SampleContexts); len(sample) > 0 {
		trailer = "---\nTop contexts (sample):\n" + strings.Join(sample, "\n---\n") + "\n"
	}

	return render(map[string][]string{
		"# Summary":              summary,
		"# Timeline":             timeline,
		"# Root Cause":           rootCause,
		"# Contributing Factors": factors,
		"# Impact":               {impact},
		"# Affected Components":  components,
		"# Recommended Fix":      {"- Add null checks and unit tests for edge cases; improve error handling."},
		"# Preventive Actions":   {"- Add alerts for error spikes and correlation-based tracing dashboards."},
	}, trailer)
}

func saw5xx(events []logs.Event) bool {
	for _, e := range events {
		if strings.Contains(e.Message, "status=5") {
			return true
		}
	}
	return false
}
