package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"carebot/pkg/classifier"
	"carebot/pkg/pipeline"
)

func TestResolveQuestion(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"what", "is", "a", "fever"}, want: "what is a fever"},
		{args: []string{"  hola  "}, want: "hola"},
		{args: []string{" "}, want: ""},
	}

	for _, tt := range tests {
		if got := resolveQuestion(tt.args); got != tt.want {
			t.Fatalf("resolveQuestion(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestPrintOutcomeWritesAnswerToStdout(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	printOutcome(&stdout, &stderr, pipeline.Outcome{
		FinalText:    "Rest and drink fluids.\n",
		StrategyUsed: classifier.General,
		LanguageUsed: "en",
	}, false)

	if got := stdout.String(); got != "Rest and drink fluids.\n" {
		t.Fatalf("stdout = %q", got)
	}
	if stderr.Len() != 0 {
		t.Fatalf("stderr = %q, want empty", stderr.String())
	}
}

func TestPrintOutcomeReportsDegradedAndDetails(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	printOutcome(&stdout, &stderr, pipeline.Outcome{
		FinalText:    "partial",
		StrategyUsed: classifier.SearchNeeded,
		LanguageUsed: "es",
		Degraded:     true,
		Elapsed:      1500 * time.Millisecond,
		RunID:        "run-1",
	}, true)

	details := stderr.String()
	if !strings.Contains(details, "may be incomplete") {
		t.Fatalf("stderr missing degraded note: %q", details)
	}
	if !strings.Contains(details, "strategy=search_needed language=es degraded=true elapsed=1.5s run_id=run-1") {
		t.Fatalf("stderr missing run details: %q", details)
	}
}

func TestCommandsAreRegistered(t *testing.T) {
	for _, name := range []string{"serve", "ask", "console"} {
		found, _, err := rootCmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}

	if flag := askCmd.Flags().Lookup("lang"); flag == nil || flag.Shorthand != "l" {
		t.Fatal("ask command should expose --lang/-l")
	}
}
