// Package render formats connection state for terminal output.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/JakeFAU/accountlink/internal/connection"
)

const barWidth = 20

// Row is one account line in the status view.
type Row struct {
	AccountID string
	Name      string
	Status    connection.Status
	Message   string
	// Progress is in [0,1]; negative hides the bar.
	Progress      float64
	Indeterminate bool
	AuthFailure   string
}

// RowFor builds a Row from a live connection.
func RowFor(c *connection.Connection, name string, failure *connection.AuthFailure) Row {
	row := Row{
		AccountID: c.AccountID().String(),
		Name:      name,
		Status:    c.Status(),
		Progress:  -1,
	}
	if rs := c.RichStatus(); rs != nil {
		switch {
		case rs.Busy != nil:
			row.Message = rs.Busy.Description()
			row.Progress = rs.Busy.FractionCompleted()
			row.Indeterminate = rs.Busy.IsIndeterminate()
		case rs.Summary != nil:
			row.Message = rs.Summary.Message
			row.Progress = rs.Summary.Progress
			row.Indeterminate = rs.Summary.Indeterminate
		}
	}
	if failure != nil && row.Status == connection.StatusAuthenticationError {
		row.AuthFailure = failure.Title
	}
	return row
}

// Status renders the account status view.
func Status(rows []Row) string {
	s := newStyles()
	lines := []string{
		s.title.Render("Account Connections"),
		s.header.Render(fmt.Sprintf("accounts: %d", len(rows))),
	}
	if len(rows) == 0 {
		lines = append(lines, s.empty.Render("No accounts configured."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, row := range rows {
		lines = append(lines, s.section.Render(renderRow(row, s)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderRow(row Row, s styles) string {
	title := row.AccountID
	if row.Name != "" {
		title = fmt.Sprintf("%s (%s)", row.Name, row.AccountID)
	}
	statusStyle := s.statusIdle
	if row.Status.HasCore() {
		statusStyle = s.statusOK
	}
	if row.Status == connection.StatusAuthenticationError {
		statusStyle = s.warning
	}
	parts := []string{
		s.account.Render(title),
		s.detail.Render("status: ") + statusStyle.Render(string(row.Status)),
	}
	if row.Message != "" {
		parts = append(parts, s.detail.Render(row.Message))
	}
	if row.Progress >= 0 && !row.Indeterminate {
		parts = append(parts, bar(row.Progress, barWidth, s))
	}
	if row.AuthFailure != "" {
		parts = append(parts, s.warning.Render(row.AuthFailure))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// bar renders a fixed-width progress bar with a percentage label.
func bar(fraction float64, width int, s styles) string {
	fraction = math.Max(0, math.Min(1, fraction))
	filled := int(math.Round(fraction * float64(width)))
	return "[" + s.barFill.Render(strings.Repeat("█", filled)) +
		s.barEmpty.Render(strings.Repeat("░", width-filled)) + "]" +
		fmt.Sprintf(" %3.0f%%", fraction*100)
}
