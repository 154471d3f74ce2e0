package terminal

import "github.com/charmbracelet/lipgloss"

var (
	ErrorSymbol   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("✗")
	SuccessSymbol = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	InfoSymbol    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Render("ℹ")
	PendingSymbol = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("●")
)

var (
	boldStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

func Bold(s string) string {
	return boldStyle.Render(s)
}

func Dim(s string) string {
	return dimStyle.Render(s)
}

func Header(s string) string {
	return headerStyle.Render(s)
}
