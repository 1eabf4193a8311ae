package taskattempt

import (
	"strings"
	"testing"

	"github.com/cspellhq/hivenode/internal/models"
)

func TestMergeMessageFormat(t *testing.T) {
	task := &models.Task{ID: "0123456789abcdef", Title: "Fix null deref", Description: "crashes on empty input"}
	got := mergeMessage(task)
	want := "Fix null deref (vibe-kanban 01234567)\n\ncrashes on empty input"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestMergeMessageShortID(t *testing.T) {
	task := &models.Task{ID: "ab12", Title: "t", Description: "d"}
	got := mergeMessage(task)
	if !strings.Contains(got, "(vibe-kanban ab12)") {
		t.Fatalf("expected short id used verbatim, got %q", got)
	}
}

func TestBuildCommandDispatchesPerAgent(t *testing.T) {
	cases := []struct {
		agent       models.CodingAgent
		wantCommand string
	}{
		{models.AgentCodex, "codex"},
		{models.AgentDroid, "droid"},
		{models.AgentClaudeCode, "claude"},
		{models.AgentGemini, "gemini"},
	}
	for _, c := range cases {
		command, args := buildCommand(executorAction{Agent: c.agent, Prompt: "do the thing"})
		if command != c.wantCommand {
			t.Fatalf("agent %s: got command %q want %q", c.agent, command, c.wantCommand)
		}
		if len(args) == 0 {
			t.Fatalf("agent %s: expected non-empty args", c.agent)
		}
	}
}

func TestBuildCommandCodexResumeIncludesSessionID(t *testing.T) {
	command, args := buildCommand(executorAction{Agent: models.AgentCodex, Prompt: "continue", SessionID: "sess-1"})
	if command != "codex" {
		t.Fatalf("unexpected command %q", command)
	}
	found := false
	for _, a := range args {
		if a == "resume" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected resume subcommand when session id is set, got %v", args)
	}
}

func TestBuildCommandUnknownAgentReturnsEmpty(t *testing.T) {
	command, args := buildCommand(executorAction{Agent: models.CodingAgent("unknown")})
	if command != "" || args != nil {
		t.Fatalf("expected empty command/args for unsupported agent, got %q %v", command, args)
	}
}
