package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	"github.com/lueurxax/profilewatch/internal/output/notify"
)

const (
	dateFormat     = "2006-01-02"
	dateTimeFormat = "2006-01-02 15:04"
	csvName        = "profiles-%s-%s.csv"
	csvContentType = "text/csv; charset=utf-8"
	notAvailable   = "n/a"
)

var csvHeader = []string{
	"id", "name", "bot_type", "responsible", "criteria", "found", "optimal",
	"ratio", "category", "last_search_at", "alert", "error",
}

// Render turns a report into a message with a text body, an HTML body and a
// CSV attachment.
func Render(rep Report) notify.Message {
	title := cases.Title(language.English).String(string(rep.Frequency))
	date := rep.GeneratedAt.Format(dateFormat)

	return notify.Message{
		Subject: fmt.Sprintf("%s profile report %s", title, date),
		Text:    renderText(rep),
		HTML:    renderHTML(rep),
		Attachments: []notify.Attachment{{
			Name:        fmt.Sprintf(csvName, rep.Frequency, date),
			ContentType: csvContentType,
			Data:        RenderCSV(rep),
		}},
	}
}

func renderText(rep Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Generated %s\n", rep.GeneratedAt.Format(dateTimeFormat))
	fmt.Fprintf(&sb, "Profiles: %d, searched: %d, with tracking: %d, pending alerts: %d\n",
		rep.Summary.Total, rep.Summary.Searched, rep.Summary.WithTracking, rep.Summary.PendingAlerts)

	if len(rep.Rows) == 0 {
		sb.WriteString("\nNo profiles configured.\n")
	}

	for _, row := range rep.Rows {
		fmt.Fprintf(&sb, "\n%s [%s]\n", row.Name, row.BotType)
		fmt.Fprintf(&sb, "  found %d, optimal %s, ratio %s (%s)\n",
			row.Found, optimalText(row), ratioText(row), row.Category)

		for _, c := range row.Criteria {
			fmt.Fprintf(&sb, "  - %s: %d\n", c.Criterion, c.Matched)
		}

		if row.Responsible != "" {
			fmt.Fprintf(&sb, "  responsible: %s\n", row.Responsible)
		}

		if row.Alert {
			sb.WriteString("  below alert threshold\n")
		}

		if row.Error != "" {
			fmt.Fprintf(&sb, "  error: %s\n", row.Error)
		}
	}

	if len(rep.SourceErrors) > 0 {
		sb.WriteString("\nUnreadable sources:\n")

		for _, e := range rep.SourceErrors {
			fmt.Fprintf(&sb, "  - %s\n", e)
		}
	}

	return sb.String()
}

func renderHTML(rep Report) string {
	var sb strings.Builder

	sb.WriteString("<html><body>")
	fmt.Fprintf(&sb, "<h2>%s</h2>", html.EscapeString(rep.GeneratedAt.Format(dateTimeFormat)))
	fmt.Fprintf(&sb, "<p>Profiles: %d &middot; searched: %d &middot; pending alerts: %d</p>",
		rep.Summary.Total, rep.Summary.Searched, rep.Summary.PendingAlerts)

	sb.WriteString("<table border=\"1\" cellpadding=\"4\" cellspacing=\"0\">")
	sb.WriteString("<tr><th>Profile</th><th>Bot</th><th>Criteria</th><th>Found</th><th>Optimal</th><th>Ratio</th><th>Category</th></tr>")

	for _, row := range rep.Rows {
		criteria := make([]string, 0, len(row.Criteria))
		for _, c := range row.Criteria {
			criteria = append(criteria, html.EscapeString(c.Criterion)+" ("+strconv.Itoa(c.Matched)+")")
		}

		name := html.EscapeString(row.Name)
		if row.Alert {
			name = "<b>" + name + "</b>"
		}

		fmt.Fprintf(&sb, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			name, html.EscapeString(string(row.BotType)), strings.Join(criteria, "<br>"),
			row.Found, optimalText(row), ratioText(row), html.EscapeString(string(row.Category)))
	}

	sb.WriteString("</table>")

	if len(rep.SourceErrors) > 0 {
		sb.WriteString("<p>Unreadable sources:</p><ul>")

		for _, e := range rep.SourceErrors {
			fmt.Fprintf(&sb, "<li>%s</li>", html.EscapeString(e))
		}

		sb.WriteString("</ul>")
	}

	sb.WriteString("</body></html>")

	return sb.String()
}

// RenderCSV writes one line per profile.
func RenderCSV(rep Report) []byte {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	_ = w.Write(csvHeader)

	for _, row := range rep.Rows {
		criteria := make([]string, 0, len(row.Criteria))
		for _, c := range row.Criteria {
			criteria = append(criteria, c.Criterion)
		}

		lastSearch := ""
		if row.LastSearchAt != nil {
			lastSearch = row.LastSearchAt.UTC().Format(time.RFC3339)
		}

		_ = w.Write([]string{
			row.ProfileID,
			row.Name,
			string(row.BotType),
			row.Responsible,
			strings.Join(criteria, "; "),
			strconv.Itoa(row.Found),
			optimalText(row),
			ratioText(row),
			string(row.Category),
			lastSearch,
			strconv.FormatBool(row.Alert),
			row.Error,
		})
	}

	w.Flush()

	return buf.Bytes()
}

// RenderAlert builds the degraded-ratio alert for one profile.
func RenderAlert(p domain.Profile) notify.Message {
	ratio, _ := p.SuccessRatio()

	var sb strings.Builder

	fmt.Fprintf(&sb, "The search profile %q is below its alert threshold.\n\n", p.Name)
	fmt.Fprintf(&sb, "Success ratio: %.1f%% (threshold %.1f%%)\n", ratio, p.Threshold())
	fmt.Fprintf(&sb, "Found: %d of %d expected\n", p.FoundCount, p.OptimalExecutions)
	fmt.Fprintf(&sb, "Criteria: %s\n", strings.Join(p.Criteria, ", "))

	if p.LastSearchAt != nil {
		fmt.Fprintf(&sb, "Last search: %s\n", p.LastSearchAt.Format(dateTimeFormat))
	}

	if p.Responsible != "" {
		fmt.Fprintf(&sb, "Responsible: %s\n", p.Responsible)
	}

	return notify.Message{
		To:      []string{p.AlertRecipient},
		Subject: fmt.Sprintf("Search profile %s below threshold (%.1f%%)", p.Name, ratio),
		Text:    sb.String(),
	}
}

func ratioText(row Row) string {
	if !row.RatioDefined {
		return notAvailable
	}

	return strconv.FormatFloat(row.Ratio, 'f', 1, 64) + "%"
}

func optimalText(row Row) string {
	if row.Optimal <= 0 {
		return notAvailable
	}

	return strconv.Itoa(row.Optimal)
}
