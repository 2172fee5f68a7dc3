package llm

import "fmt"

// SummaryPrompt builds the daily journal summary request. entries is the
// day's log rendered one "- HH:MM: text" line per entry.
func SummaryPrompt(entries, day string) string {
	return fmt.Sprintf(`You are an AI assistant designed to summarize daily journal entries.
Your goal is to provide a concise, insightful, and coherent summary of the provided text.
Focus on key activities, significant thoughts, recurring themes, and notable events from the day.
Keep the summary to around 3-5 concise paragraphs.

Date: %s

Journal Entries:
---
%s
---

Please provide a summary of the above journal entries for the specified date.`, day, entries)
}
