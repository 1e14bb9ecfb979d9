// Package console is the interactive terminal front end. It sends each
// question through the pipeline session and renders the outcome.
package console

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"carebot/pkg/pipeline"
)

// AskFunc runs one question through the pipeline. *session.Session.Ask
// satisfies it.
type AskFunc func(ctx context.Context, text string, preferredLanguage string) (pipeline.Outcome, error)

// Info describes the running configuration shown in the header.
type Info struct {
	ReasoningModel string
	SearchModel    string
	Language       string
}

// Run starts the interactive console and blocks until the user quits.
func Run(ctx context.Context, ask AskFunc, info Info) error {
	program := tea.NewProgram(newModel(ctx, ask, info), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("231")).
		Background(lipgloss.Color("30")).
		Padding(1, 2)

	return style.Render("🩺 Take care. If symptoms get worse, contact a health professional.")
}
