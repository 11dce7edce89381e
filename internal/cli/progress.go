package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/asteroid-belt/trophysync/internal/jobs"
)

var (
	syncColor  = lipgloss.Color("#10B981")
	statsColor = lipgloss.Color("#F59E0B")
	failColor  = lipgloss.Color("#EF4444")
	mutedColor = lipgloss.Color("#6B6B6B")
)

// ProgressBar renders a sync progress line.
type ProgressBar struct {
	completed int
	total     int
	label     string
	width     int
}

// NewProgressBar creates a new progress bar with the specified total and width.
func NewProgressBar(total int, width int) *ProgressBar {
	if width <= 0 {
		width = 15
	}
	return &ProgressBar{
		total: total,
		width: width,
	}
}

// SetTotal changes the total once the job knows how many games it selected.
func (p *ProgressBar) SetTotal(total int) {
	p.total = total
}

// Update sets the current progress and label.
func (p *ProgressBar) Update(completed int, label string) {
	p.completed = min(completed, p.total)
	p.label = label
}

// Render returns the formatted progress bar for sync jobs.
func (p *ProgressBar) Render() string {
	return p.render("🏆 ", syncColor)
}

// RenderStats returns the statistics-themed progress bar (amber color).
func (p *ProgressBar) RenderStats() string {
	return p.render("📊 ", statsColor)
}

func (p *ProgressBar) render(icon string, color lipgloss.Color) string {
	if p.total == 0 {
		return ""
	}

	percent := float64(p.completed) / float64(p.total)
	filled := int(float64(p.width) * percent)
	empty := p.width - filled

	bar := strings.Repeat("█", filled) + strings.Repeat("░", empty)

	labelStyle := lipgloss.NewStyle().Foreground(color).Bold(true)
	barStyle := lipgloss.NewStyle().Foreground(color)
	countStyle := lipgloss.NewStyle().Foreground(mutedColor)

	return labelStyle.Render(icon) +
		barStyle.Render("["+bar+"]") +
		countStyle.Render(fmt.Sprintf(" %d/%d ", p.completed, p.total)) +
		labelStyle.Render(p.label)
}

// RenderState colors a job state for terminal output.
func RenderState(state jobs.State) string {
	color := statsColor
	switch state {
	case jobs.StateSuccess:
		color = syncColor
	case jobs.StateFailure, jobs.StateRevoked:
		color = failColor
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(string(state))
}

// ClearLine clears the current line for in-place progress updates.
func ClearLine() {
	fmt.Print("\r\033[K")
}
