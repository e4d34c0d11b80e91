package diag

import (
	"fmt"
	"sort"
	"strings"
)

type renderedDiagnostic struct {
	Severity string
	Code     string
	Site     string
	Message  string
}

// FormatDiagnostics renders diagnostics into a stable, single-line-per-entry
// representation suitable for golden files and CLI short output. Entries are
// sorted deterministically and returned as one string (empty when there is
// nothing to show).
func FormatDiagnostics(diags []Diagnostic, includeNotes bool) string {
	if len(diags) == 0 {
		return ""
	}

	rendered := make([]renderedDiagnostic, 0, len(diags))
	for i := range diags {
		rendered = appendRendered(rendered, &diags[i], includeNotes)
	}

	sort.SliceStable(rendered, func(i, j int) bool {
		di, dj := rendered[i], rendered[j]
		if di.Site != dj.Site {
			return di.Site < dj.Site
		}
		if di.Severity != dj.Severity {
			return di.Severity < dj.Severity
		}
		if di.Code != dj.Code {
			return di.Code < dj.Code
		}
		return di.Message < dj.Message
	})

	var b strings.Builder
	for i, d := range rendered {
		fmt.Fprintf(&b, "%s %s %s %s", d.Severity, d.Code, d.Site, d.Message)
		if i < len(rendered)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func appendRendered(out []renderedDiagnostic, d *Diagnostic, includeNotes bool) []renderedDiagnostic {
	out = append(out, renderedDiagnostic{
		Severity: severityLabel(d.Severity),
		Code:     d.Code.ID(),
		Site:     d.Primary.String(),
		Message:  sanitizeMessage(d.Message),
	})
	if includeNotes {
		for _, note := range d.Notes {
			out = append(out, renderedDiagnostic{
				Severity: "note",
				Code:     d.Code.ID(),
				Site:     note.Site.String(),
				Message:  sanitizeMessage(note.Msg),
			})
		}
	}
	return out
}

func severityLabel(sev Severity) string {
	switch sev {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	default:
		return "info"
	}
}

func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.ReplaceAll(msg, "\r", "\n")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return strings.TrimSpace(msg)
}
