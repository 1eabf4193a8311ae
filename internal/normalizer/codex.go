package normalizer

import (
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cspellhq/hivenode/internal/gitops"
	"github.com/cspellhq/hivenode/internal/models"
)

// CodexNormalizer parses Codex's JSONRPC `codex/event` notification stream.
// Approval requests and patch-apply events are distinct lifecycle phases:
// an entry created at request time is replaced, not duplicated, when the
// matching apply event arrives.
type CodexNormalizer struct {
	worktreePath string
	index        *EntryIndexProvider

	streamingAssistant *streamSlot
	streamingThinking  *streamSlot

	commands map[string]int // exec call id -> entry index
	patches  map[string]int // patch call id -> entry index
	mcpCalls map[string]int
	webCalls map[string]int
}

type streamSlot struct {
	index int
	text  string
}

// NewCodexNormalizer constructs a normalizer for one Codex process, rooted
// at worktreePath so tool-reported paths can be rendered relative to it.
func NewCodexNormalizer(worktreePath string, index *EntryIndexProvider) *CodexNormalizer {
	return &CodexNormalizer{
		worktreePath: worktreePath,
		index:        index,
		commands:     make(map[string]int),
		patches:      make(map[string]int),
		mcpCalls:     make(map[string]int),
		webCalls:     make(map[string]int),
	}
}

// ParseLine accepts any line that parses as JSON; non-JSON lines (occasional
// diagnostic text Codex writes to stdout) are skipped.
func (n *CodexNormalizer) ParseLine(line string) (any, bool) {
	if !gjson.Valid(line) {
		return nil, false
	}
	return gjson.Parse(line), true
}

// ExtractSessionID recognizes the rollout-path-bearing NewConversationResponse
// and the SessionConfigured notification.
func (n *CodexNormalizer) ExtractSessionID(event any) (string, bool) {
	v := event.(gjson.Result)
	if rollout := v.Get("result.rollout_path"); rollout.Exists() {
		return sessionIDFromRolloutPath(rollout.String()), true
	}
	if sid := v.Get("params.session_configured.session_id"); sid.Exists() {
		return sid.String(), true
	}
	return "", false
}

func sessionIDFromRolloutPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// ProcessEvent dispatches on the JSONRPC method (always "codex/event" for
// the events we care about) and the nested EventMsg tag.
func (n *CodexNormalizer) ProcessEvent(event any) []models.JSONPatch {
	v := event.(gjson.Result)
	now := time.Now().Unix()

	if errKind, msg, ok := codexErrorEvent(v); ok {
		return []models.JSONPatch{n.add(models.NormalizedEntry{
			Kind: models.EntryErrorMessage, ErrorKind: errKind, Content: msg, Timestamp: now,
		})}
	}

	msg := v.Get("params.msg")
	if !msg.Exists() {
		return nil
	}

	switch msg.Get("type").String() {
	case "agent_message_delta":
		return n.appendAssistantDelta(msg.Get("delta").String(), now)
	case "agent_message":
		return n.closeAssistant(msg.Get("message").String(), now)
	case "agent_reasoning_delta":
		return n.appendThinkingDelta(msg.Get("delta").String(), now)
	case "agent_reasoning":
		return n.closeThinking(msg.Get("text").String(), now)
	case "exec_command_begin":
		return n.execBegin(msg, now)
	case "exec_command_end":
		return n.execEnd(msg, now)
	case "apply_patch_approval_request":
		return n.patchApprovalRequest(msg, now)
	case "patch_apply_begin":
		return n.patchApplyBegin(msg, now)
	case "patch_apply_end":
		return n.patchApplyEnd(msg, now)
	case "mcp_tool_call_begin":
		return n.mcpBegin(msg, now)
	case "mcp_tool_call_end":
		return n.mcpEnd(msg, now)
	case "web_search_begin":
		return n.webBegin(msg, now)
	case "web_search_end":
		return n.webEnd(msg, now)
	case "view_image_tool_call":
		return []models.JSONPatch{n.add(models.NormalizedEntry{
			Kind: models.EntryToolUse, ToolName: "view_image", Status: models.ToolSuccess,
			Action: &models.Action{Kind: models.ActionTool, Name: "view_image", Args: msg.Get("path").String()},
			Timestamp: now,
		})}
	case "plan_update":
		return []models.JSONPatch{n.add(models.NormalizedEntry{
			Kind: models.EntryToolUse, ToolName: "update_plan", Status: models.ToolSuccess,
			Action: &models.Action{Kind: models.ActionTodoManagement, Todos: codexPlanTodos(msg), Operation: "update"},
			Timestamp: now,
		})}
	case "stream_error", "error":
		return []models.JSONPatch{n.add(models.NormalizedEntry{
			Kind: models.EntryErrorMessage, ErrorKind: "other", Content: msg.Get("message").String(), Timestamp: now,
		})}
	case "token_count", "background_event":
		// Telemetry-only events carry no conversation-visible content.
		return nil
	default:
		return nil
	}
}

func codexErrorEvent(v gjson.Result) (kind, message string, ok bool) {
	if !v.Get("error").Exists() {
		return "", "", false
	}
	message = v.Get("error.message").String()
	if v.Get("error.code").Int() == -32001 {
		return "setup_required", message, true
	}
	return "other", message, true
}

func (n *CodexNormalizer) add(entry models.NormalizedEntry) models.JSONPatch {
	return models.JSONPatch{Op: models.PatchAdd, Index: n.index.Next(), Entry: &entry}
}

func (n *CodexNormalizer) replace(index int, entry models.NormalizedEntry) models.JSONPatch {
	return models.JSONPatch{Op: models.PatchReplace, Index: index, Entry: &entry}
}

func (n *CodexNormalizer) appendAssistantDelta(delta string, now int64) []models.JSONPatch {
	if n.streamingAssistant == nil {
		idx := n.index.Next()
		n.streamingAssistant = &streamSlot{index: idx, text: delta}
		return []models.JSONPatch{n.add(models.NormalizedEntry{Kind: models.EntryAssistantMessage, Content: delta, Timestamp: now})}
	}
	n.streamingAssistant.text += delta
	return []models.JSONPatch{n.replace(n.streamingAssistant.index, models.NormalizedEntry{
		Kind: models.EntryAssistantMessage, Content: n.streamingAssistant.text, Timestamp: now,
	})}
}

func (n *CodexNormalizer) closeAssistant(full string, now int64) []models.JSONPatch {
	entry := models.NormalizedEntry{Kind: models.EntryAssistantMessage, Content: full, Timestamp: now}
	if n.streamingAssistant != nil {
		idx := n.streamingAssistant.index
		n.streamingAssistant = nil
		return []models.JSONPatch{n.replace(idx, entry)}
	}
	return []models.JSONPatch{n.add(entry)}
}

func (n *CodexNormalizer) appendThinkingDelta(delta string, now int64) []models.JSONPatch {
	if n.streamingThinking == nil {
		idx := n.index.Next()
		n.streamingThinking = &streamSlot{index: idx, text: delta}
		return []models.JSONPatch{n.add(models.NormalizedEntry{Kind: models.EntryThinking, Content: delta, Timestamp: now})}
	}
	n.streamingThinking.text += delta
	return []models.JSONPatch{n.replace(n.streamingThinking.index, models.NormalizedEntry{
		Kind: models.EntryThinking, Content: n.streamingThinking.text, Timestamp: now,
	})}
}

func (n *CodexNormalizer) closeThinking(full string, now int64) []models.JSONPatch {
	entry := models.NormalizedEntry{Kind: models.EntryThinking, Content: full, Timestamp: now}
	if n.streamingThinking != nil {
		idx := n.streamingThinking.index
		n.streamingThinking = nil
		return []models.JSONPatch{n.replace(idx, entry)}
	}
	return []models.JSONPatch{n.add(entry)}
}

func (n *CodexNormalizer) execBegin(msg gjson.Result, now int64) []models.JSONPatch {
	callID := msg.Get("call_id").String()
	idx := n.index.Next()
	n.commands[callID] = idx
	return []models.JSONPatch{n.add(models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: "exec_command", Status: models.ToolCreated,
		Action: &models.Action{Kind: models.ActionCommandRun, Command: msg.Get("command").String()}, Timestamp: now,
	})}
}

func (n *CodexNormalizer) execEnd(msg gjson.Result, now int64) []models.JSONPatch {
	callID := msg.Get("call_id").String()
	idx, ok := n.commands[callID]
	status := models.ToolSuccess
	if msg.Get("exit_code").Int() != 0 {
		status = models.ToolFailed
	}
	result := msg.Get("aggregated_output").String()
	entry := models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: "exec_command", Status: status,
		Action: &models.Action{Kind: models.ActionCommandRun, Command: msg.Get("command").String(), Result: &result},
		Timestamp: now,
	}
	if !ok {
		return []models.JSONPatch{n.add(entry)}
	}
	delete(n.commands, callID)
	return []models.JSONPatch{n.replace(idx, entry)}
}

func (n *CodexNormalizer) patchApprovalRequest(msg gjson.Result, now int64) []models.JSONPatch {
	callID := msg.Get("call_id").String()
	idx := n.index.Next()
	n.patches[callID] = idx
	changes := codexFileChanges(msg.Get("changes"), n.worktreePath)
	return []models.JSONPatch{n.add(models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: "apply_patch", Status: models.ToolCreated,
		Action: &models.Action{Kind: models.ActionFileEdit, Changes: changes}, Timestamp: now,
	})}
}

func (n *CodexNormalizer) patchApplyBegin(msg gjson.Result, now int64) []models.JSONPatch {
	callID := msg.Get("call_id").String()
	if idx, ok := n.patches[callID]; ok {
		changes := codexFileChanges(msg.Get("changes"), n.worktreePath)
		return []models.JSONPatch{n.replace(idx, models.NormalizedEntry{
			Kind: models.EntryToolUse, ToolName: "apply_patch", Status: models.ToolCreated,
			Action: &models.Action{Kind: models.ActionFileEdit, Changes: changes}, Timestamp: now,
		})}
	}
	idx := n.index.Next()
	n.patches[callID] = idx
	changes := codexFileChanges(msg.Get("changes"), n.worktreePath)
	return []models.JSONPatch{n.add(models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: "apply_patch", Status: models.ToolCreated,
		Action: &models.Action{Kind: models.ActionFileEdit, Changes: changes}, Timestamp: now,
	})}
}

func (n *CodexNormalizer) patchApplyEnd(msg gjson.Result, now int64) []models.JSONPatch {
	callID := msg.Get("call_id").String()
	status := models.ToolSuccess
	if !msg.Get("success").Bool() {
		status = models.ToolFailed
	}
	changes := codexFileChanges(msg.Get("changes"), n.worktreePath)
	entry := models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: "apply_patch", Status: status,
		Action: &models.Action{Kind: models.ActionFileEdit, Changes: changes}, Timestamp: now,
	}
	idx, ok := n.patches[callID]
	if !ok {
		return []models.JSONPatch{n.add(entry)}
	}
	delete(n.patches, callID)
	return []models.JSONPatch{n.replace(idx, entry)}
}

func (n *CodexNormalizer) mcpBegin(msg gjson.Result, now int64) []models.JSONPatch {
	id := msg.Get("call_id").String()
	idx := n.index.Next()
	n.mcpCalls[id] = idx
	return []models.JSONPatch{n.add(models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: msg.Get("invocation.tool").String(), Status: models.ToolCreated,
		Action: &models.Action{Kind: models.ActionTool, Name: msg.Get("invocation.tool").String(), Args: msg.Get("invocation.arguments").Raw},
		Timestamp: now,
	})}
}

func (n *CodexNormalizer) mcpEnd(msg gjson.Result, now int64) []models.JSONPatch {
	id := msg.Get("call_id").String()
	status := models.ToolSuccess
	if msg.Get("result.is_error").Bool() {
		status = models.ToolFailed
	}
	result := msg.Get("result.content").Raw
	entry := models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: msg.Get("invocation.tool").String(), Status: status,
		Action: &models.Action{Kind: models.ActionTool, Name: msg.Get("invocation.tool").String(), Result: &result}, Timestamp: now,
	}
	idx, ok := n.mcpCalls[id]
	if !ok {
		return []models.JSONPatch{n.add(entry)}
	}
	delete(n.mcpCalls, id)
	return []models.JSONPatch{n.replace(idx, entry)}
}

func (n *CodexNormalizer) webBegin(msg gjson.Result, now int64) []models.JSONPatch {
	id := msg.Get("call_id").String()
	idx := n.index.Next()
	n.webCalls[id] = idx
	return []models.JSONPatch{n.add(models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: "web_search", Status: models.ToolCreated,
		Action: &models.Action{Kind: models.ActionSearch, Query: msg.Get("query").String()}, Timestamp: now,
	})}
}

func (n *CodexNormalizer) webEnd(msg gjson.Result, now int64) []models.JSONPatch {
	id := msg.Get("call_id").String()
	entry := models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: "web_search", Status: models.ToolSuccess,
		Action: &models.Action{Kind: models.ActionSearch, Query: msg.Get("query").String()}, Timestamp: now,
	}
	idx, ok := n.webCalls[id]
	if !ok {
		return []models.JSONPatch{n.add(entry)}
	}
	delete(n.webCalls, id)
	return []models.JSONPatch{n.replace(idx, entry)}
}

func codexFileChanges(changes gjson.Result, worktree string) []models.FileChange {
	var out []models.FileChange
	changes.ForEach(func(path, change gjson.Result) bool {
		rel := gitops.MakePathRelative(path.String(), worktree)
		switch {
		case change.Get("unified_diff").Exists():
			diff := change.Get("unified_diff").String()
			out = append(out, models.FileChange{Kind: models.FileChangeEdit, Path: rel, UnifiedDiff: &diff})
		case change.Get("delete").Exists():
			out = append(out, models.FileChange{Kind: models.FileChangeDelete, Path: rel})
		case change.Get("new_content").Exists():
			content := change.Get("new_content").String()
			out = append(out, models.FileChange{Kind: models.FileChangeWrite, Path: rel, Content: &content})
		default:
			out = append(out, models.FileChange{Kind: models.FileChangeEdit, Path: rel})
		}
		return true
	})
	return out
}

func codexPlanTodos(msg gjson.Result) []models.TodoItem {
	var todos []models.TodoItem
	msg.Get("plan").ForEach(func(_, step gjson.Result) bool {
		todos = append(todos, models.TodoItem{
			Content: step.Get("step").String(),
			Status:  step.Get("status").String(),
		})
		return true
	})
	return todos
}
