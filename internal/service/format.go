package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/calnotify/calnotify/internal/domain"
)

// The upstream provider emits BBCode markup in summaries and descriptions;
// Telegram wants HTML.
var bbcodeReplacements = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\[B\](.+?)\[/B\]`), "<b>$1</b>"},
	{regexp.MustCompile(`\[I\](.+?)\[/I\]`), "<i>$1</i>"},
	{regexp.MustCompile(`\[U\](.+?)\[/U\]`), "<u>$1</u>"},
	{regexp.MustCompile(`\[S\](.+?)\[/S\]`), "<strike>$1</strike>"},
	{regexp.MustCompile(`\[URL=(.+?)\](.+?)\[/URL\]`), `<a href="$1">$2</a>`},
	{regexp.MustCompile(`\[IMG\](.+?)\[/IMG\]`), `<a href="$1">image link</a>`},
	{regexp.MustCompile(`\[[^\]]+\]`), ""},
	{regexp.MustCompile(`\\n`), "\n"},
}

// BBCodeToHTML converts provider BBCode markup into Telegram-safe HTML and
// drops any unknown tags.
func BBCodeToHTML(text string) string {
	for _, r := range bbcodeReplacements {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}

// FormatNotification renders one due occurrence as the notification message
// sent to the user. Times are shifted into the user's timezone offset.
func FormatNotification(user *domain.User, occ *domain.Occurrence) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("🔔 <b>%s</b>\n", BBCodeToHTML(occ.Summary)))
	if occ.Status != "" {
		sb.WriteString(fmt.Sprintf("Status: %s\n", BBCodeToHTML(occ.Status)))
	}
	if occ.Description != "" {
		sb.WriteString(fmt.Sprintf("\n%s\n", BBCodeToHTML(occ.Description)))
	}
	if occ.Location != "" {
		sb.WriteString(fmt.Sprintf("📍 %s\n", BBCodeToHTML(occ.Location)))
	}

	start := user.InUserZone(occ.StartTime)
	end := user.InUserZone(occ.EndTime)
	sb.WriteString(fmt.Sprintf("\n🕐 %s — %s (%.0f min)",
		start.Format("02-01-2006 15:04"),
		end.Format("02-01-2006 15:04"),
		occ.Duration.Minutes()))

	return sb.String()
}

// FormatTodayList renders the user's cached occurrence set as a day overview.
func FormatTodayList(user *domain.User, occurrences []domain.Occurrence) string {
	if len(occurrences) == 0 {
		return "📅 No upcoming events"
	}

	var sb strings.Builder
	sb.WriteString("📅 <b>Upcoming events</b>\n\n")
	for _, occ := range occurrences {
		start := user.InUserZone(occ.StartTime)
		line := fmt.Sprintf("• %s — %s", start.Format("02.01 15:04"), BBCodeToHTML(occ.Summary))
		if occ.Location != "" {
			line += fmt.Sprintf(" 📍%s", BBCodeToHTML(occ.Location))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}
