// Package styles provides the terminal styling of the relay CLI.
package styles

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary   = lipgloss.Color("#0EA5E9") // Sky
	Secondary = lipgloss.Color("#A78BFA") // Violet
	Success   = lipgloss.Color("#10B981") // Emerald
	Warning   = lipgloss.Color("#F59E0B") // Amber
	Error     = lipgloss.Color("#EF4444") // Red
	Info      = lipgloss.Color("#3B82F6") // Blue
	Text      = lipgloss.Color("#F9FAFB")
	TextMuted = lipgloss.Color("#9CA3AF")
	Surface   = lipgloss.Color("#1F2937")
	Border    = lipgloss.Color("#374151")
)

// Icons
const (
	IconSuccess  = "✓"
	IconError    = "✗"
	IconWarning  = "⚠"
	IconInfo     = "ℹ"
	IconArrow    = "→"
	IconDot      = "•"
	IconEnvelope = "✉"
	IconRelay    = "⇄"
)

// Text styles. They are rebuilt by DisableColors.
var (
	Bold         lipgloss.Style
	Title        lipgloss.Style
	Muted        lipgloss.Style
	Highlight    lipgloss.Style
	Code         lipgloss.Style
	SuccessStyle lipgloss.Style
	WarningStyle lipgloss.Style
	ErrorStyle   lipgloss.Style
	InfoStyle    lipgloss.Style
	Box          lipgloss.Style
)

func init() {
	build()
}

func build() {
	Bold = lipgloss.NewStyle().Bold(true)
	Title = lipgloss.NewStyle().Bold(true).Foreground(Primary).MarginBottom(1)
	Muted = lipgloss.NewStyle().Foreground(TextMuted)
	Highlight = lipgloss.NewStyle().Bold(true).Foreground(Secondary)
	Code = lipgloss.NewStyle().Foreground(Warning).Background(Surface).Padding(0, 1)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	ErrorStyle = lipgloss.NewStyle().Foreground(Error)
	InfoStyle = lipgloss.NewStyle().Foreground(Info)
	Box = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Border).Padding(0, 1)
}

// FormatSuccess formats a success message with icon
func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + msg
}

// FormatError formats an error message with icon
func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + msg
}

// FormatWarning formats a warning message with icon
func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + msg
}

// FormatInfo formats an info message with icon
func FormatInfo(msg string) string {
	return InfoStyle.Render(IconInfo) + " " + msg
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key, value string) string {
	return lipgloss.NewStyle().Foreground(TextMuted).Width(16).Render(key+":") + " " + Highlight.Render(value)
}

// FormatEnvelope renders one received envelope as a single line.
func FormatEnvelope(topic, name, eventID, data string) string {
	return InfoStyle.Render(IconEnvelope) + " " +
		Muted.Render(topic) + " " + IconArrow + " " +
		Bold.Render(name+":"+eventID) + " " + data
}

// Banner returns the one-line CLI banner.
func Banner() string {
	return lipgloss.NewStyle().Bold(true).Foreground(Primary).Render(IconRelay+" relay") +
		" " + Muted.Render("- mediator and integration event bus for Go")
}

// StatusBadge returns a styled status badge
func StatusBadge(status string) string {
	badge := lipgloss.NewStyle().Padding(0, 1)
	switch strings.ToLower(status) {
	case "ok", "connected", "delivered":
		badge = badge.Background(Success).Foreground(lipgloss.Color("#000000"))
	case "deduplicated", "skipped":
		badge = badge.Background(Warning).Foreground(lipgloss.Color("#000000"))
	case "error", "failed":
		badge = badge.Background(Error).Foreground(lipgloss.Color("#FFFFFF"))
	default:
		badge = badge.Background(Surface).Foreground(Text)
	}
	return badge.Render(status)
}

// Table renders rows under headers with box-drawing borders.
func Table(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(headers) && i < len(row); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	border := lipgloss.NewStyle().Foreground(Border)
	rule := func(left, mid, right string) string {
		parts := make([]string, len(widths))
		for i, w := range widths {
			parts[i] = strings.Repeat("─", w+2)
		}
		return border.Render(left + strings.Join(parts, mid) + right)
	}
	line := func(cells []string, style lipgloss.Style) string {
		var sb strings.Builder
		sb.WriteString(border.Render("│"))
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			sb.WriteString(style.Width(w + 2).Render(cell))
			sb.WriteString(border.Render("│"))
		}
		return sb.String()
	}

	header := lipgloss.NewStyle().Bold(true).Foreground(Primary).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	out := []string{rule("┌", "┬", "┐"), line(headers, header), rule("├", "┼", "┤")}
	for _, row := range rows {
		out = append(out, line(row, cell))
	}
	out = append(out, rule("└", "┴", "┘"))
	return strings.Join(out, "\n")
}

// Step formats "[n/total] msg".
func Step(n, total int, msg string) string {
	return Muted.Render(fmt.Sprintf("[%d/%d]", n, total)) + " " + msg
}

// DisableColors disables all colors for terminals that don't support them
func DisableColors() {
	for _, c := range []*lipgloss.Color{&Primary, &Secondary, &Success, &Warning, &Error, &Info, &Text, &TextMuted, &Surface, &Border} {
		*c = lipgloss.Color("")
	}
	build()
}
