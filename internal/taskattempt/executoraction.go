package taskattempt

import (
	"encoding/json"

	"github.com/cspellhq/hivenode/internal/models"
)

// executorAction is the tagged-JSON description of what an agent process
// runs, persisted verbatim as ExecutionProcess.ExecutorAction so a retried
// or re-inspected process can show its exact invocation.
type executorAction struct {
	Agent     models.CodingAgent `json:"agent"`
	Prompt    string             `json:"prompt"`
	SessionID string             `json:"session_id,omitempty"`
	Variant   string             `json:"variant,omitempty"`
	FollowUp  bool               `json:"follow_up"`
}

func (a executorAction) marshal() []byte {
	raw, err := json.Marshal(a)
	if err != nil {
		return []byte(`{}`)
	}
	return raw
}

// buildCommand dispatches on agent through a switch to produce the
// binary and args for one executor action. Dispatch never subclasses: each
// agent is a case in this switch, matching the capability-table pattern used
// for CodingAgent.Capabilities().
func buildCommand(action executorAction) (command string, args []string) {
	switch action.Agent {
	case models.AgentCodex:
		return buildCodexCommand(action)
	case models.AgentDroid:
		return buildDroidCommand(action)
	case models.AgentClaudeCode:
		return buildClaudeCodeCommand(action)
	case models.AgentGemini:
		return "gemini", []string{"--prompt", action.Prompt}
	case models.AgentCursor:
		return "cursor-agent", []string{"--print", action.Prompt}
	case models.AgentOpenCode:
		return "opencode", []string{"run", action.Prompt}
	default:
		return "", nil
	}
}

func buildClaudeCodeCommand(action executorAction) (string, []string) {
	args := []string{"--print", "--verbose", "--output-format", "stream-json", "--dangerously-skip-permissions"}
	if action.SessionID != "" {
		args = append(args, "-r", action.SessionID)
	}
	args = append(args, "--", action.Prompt)
	return "claude", args
}

func buildCodexCommand(action executorAction) (string, []string) {
	args := []string{"exec"}
	if action.SessionID != "" {
		args = append(args, "resume")
	}
	args = append(args, "--json", "--full-auto")
	if action.SessionID != "" {
		args = append(args, action.SessionID)
	}
	if action.Prompt != "" {
		args = append(args, action.Prompt)
	}
	return "codex", args
}

func buildDroidCommand(action executorAction) (string, []string) {
	args := []string{"exec", "--output-format", "json"}
	if action.SessionID != "" {
		args = append(args, "--session", action.SessionID)
	}
	args = append(args, action.Prompt)
	return "droid", args
}
