// Package output provides formatters for CLI output.
package output

import (
	"fmt"
	"io"
	"strings"

	"tasksync/internal/session"
	"tasksync/internal/task"
)

const (
	// Separator is the separator line between the stats header and the tasks.
	Separator = "------------"
)

// FormatTask formats a task line.
// Format: "{N:>4}  [x] {TITLE}\n" (4-wide right-aligned number, two spaces,
// done marker, title)
func FormatTask(w io.Writer, num int, t task.Task) {
	mark := " "
	if t.IsDone {
		mark = "x"
	}
	fmt.Fprintf(w, "%4d  [%s] %s\n", num, mark, normalizeTitle(t.Title))
}

// FormatStats formats the completion counters.
// Format: "{TOTAL} total, {DONE} done, {PENDING} pending ({PERCENT}%)\n"
func FormatStats(w io.Writer, s task.Stats) {
	fmt.Fprintf(w, "%d total, %d done, %d pending (%d%%)\n", s.Total, s.Done, s.Pending, s.Percent)
}

// FormatHeader formats the stats line followed by the active query and
// filter, if any, and the separator.
func FormatHeader(w io.Writer, s task.Stats, query string, filter task.Filter) {
	FormatStats(w, s)
	var parts []string
	if filter != "" && filter != task.FilterAll {
		parts = append(parts, "filter: "+string(filter))
	}
	if q := strings.TrimSpace(query); q != "" {
		parts = append(parts, fmt.Sprintf("query: %q", q))
	}
	if len(parts) > 0 {
		fmt.Fprintln(w, strings.Join(parts, ", "))
	}
	fmt.Fprintln(w, Separator)
}

// FormatSession formats the signed-in identity.
func FormatSession(w io.Writer, s session.Session) {
	if !s.Present() {
		fmt.Fprintln(w, "not logged in")
		return
	}
	who := s.Email
	if who == "" {
		who = s.UserID
	}
	if s.Backend != "" {
		fmt.Fprintf(w, "logged in as %s (%s)\n", who, s.Backend)
		return
	}
	fmt.Fprintf(w, "logged in as %s\n", who)
}

// normalizeTitle normalizes a task title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func normalizeTitle(title string) string {
	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.ReplaceAll(title, "\n", " ")

	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}
