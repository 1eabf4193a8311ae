package normalizer

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/cspellhq/hivenode/internal/gitops"
	"github.com/cspellhq/hivenode/internal/models"
)

// DroidNormalizer parses Droid's single-line JSON events, tagged by "type".
// Result rows sometimes omit the originating tool-call id, so pending calls
// are also threaded through a FIFO in addition to an id-keyed map.
type DroidNormalizer struct {
	worktreePath string
	index        *EntryIndexProvider

	byID map[string]int // tool call id -> entry index, when id is present
	fifo []pendingCall
}

type pendingCall struct {
	id    string
	index int
}

// NewDroidNormalizer constructs a normalizer for one Droid process.
func NewDroidNormalizer(worktreePath string, index *EntryIndexProvider) *DroidNormalizer {
	return &DroidNormalizer{worktreePath: worktreePath, index: index, byID: make(map[string]int)}
}

func (n *DroidNormalizer) ParseLine(line string) (any, bool) {
	if !gjson.Valid(line) {
		return nil, false
	}
	return gjson.Parse(line), true
}

func (n *DroidNormalizer) ExtractSessionID(event any) (string, bool) {
	v := event.(gjson.Result)
	if v.Get("type").String() == "System" {
		if sid := v.Get("session_id"); sid.Exists() {
			return sid.String(), true
		}
	}
	return "", false
}

func (n *DroidNormalizer) ProcessEvent(event any) []models.JSONPatch {
	v := event.(gjson.Result)
	now := time.Now().Unix()

	switch v.Get("type").String() {
	case "System":
		return nil
	case "Message":
		return n.message(v, now)
	case "ToolCall":
		return n.toolCall(v, now)
	case "ToolResult":
		return n.toolResult(v, now)
	case "Completion":
		return nil
	case "Error":
		return []models.JSONPatch{{Op: models.PatchAdd, Index: n.index.Next(), Entry: &models.NormalizedEntry{
			Kind: models.EntryErrorMessage, ErrorKind: "other", Content: v.Get("message").String(), Timestamp: now,
		}}}
	default:
		return nil
	}
}

func (n *DroidNormalizer) message(v gjson.Result, now int64) []models.JSONPatch {
	kind := models.EntryAssistantMessage
	if v.Get("role").String() == "user" {
		kind = models.EntryUserMessage
	}
	return []models.JSONPatch{{Op: models.PatchAdd, Index: n.index.Next(), Entry: &models.NormalizedEntry{
		Kind: kind, Content: v.Get("content").String(), Timestamp: now,
	}}}
}

func (n *DroidNormalizer) toolCall(v gjson.Result, now int64) []models.JSONPatch {
	id := v.Get("id").String()
	toolName := v.Get("toolName").String()
	idx := n.index.Next()

	if toolName == "ExitSpecMode" {
		return []models.JSONPatch{{Op: models.PatchAdd, Index: idx, Entry: &models.NormalizedEntry{
			Kind: models.EntryToolUse, ToolName: toolName, Status: models.ToolSuccess,
			Action: &models.Action{Kind: models.ActionTodoManagement}, Timestamp: now,
		}}}
	}

	if id != "" {
		n.byID[id] = idx
	}
	n.fifo = append(n.fifo, pendingCall{id: id, index: idx})

	return []models.JSONPatch{{Op: models.PatchAdd, Index: idx, Entry: &models.NormalizedEntry{
		Kind: models.EntryToolUse, ToolName: toolName, Status: models.ToolCreated,
		Action: &models.Action{Kind: models.ActionTool, Name: toolName, Args: v.Get("parameters").Raw}, Timestamp: now,
	}}}
}

func (n *DroidNormalizer) toolResult(v gjson.Result, now int64) []models.JSONPatch {
	id := v.Get("id").String()

	idx, ok := n.resolveCallIndex(id)
	if !ok {
		// No correlating call observed; surface the result standalone rather
		// than dropping it silently.
		idx = n.index.Next()
	}

	status := models.ToolSuccess
	if v.Get("isError").Bool() {
		status = models.ToolFailed
	}

	if applyPatchResult, isPatch := droidApplyPatchChanges(v, n.worktreePath); isPatch {
		return []models.JSONPatch{{Op: models.PatchReplace, Index: idx, Entry: &models.NormalizedEntry{
			Kind: models.EntryToolUse, ToolName: "ApplyPatch", Status: status,
			Action: &models.Action{Kind: models.ActionFileEdit, Changes: applyPatchResult}, Timestamp: now,
		}}}
	}

	result := v.Get("value").String()
	if v.Get("error").Exists() {
		result = v.Get("error").String()
	}
	op := models.PatchReplace
	if !ok {
		op = models.PatchAdd
	}
	return []models.JSONPatch{{Op: op, Index: idx, Entry: &models.NormalizedEntry{
		Kind: models.EntryToolUse, Status: status,
		Action: &models.Action{Kind: models.ActionTool, Result: &result}, Timestamp: now,
	}}}
}

// resolveCallIndex finds the pending call this result belongs to: by id if
// present, otherwise the oldest FIFO entry (Droid's id-less result shape).
func (n *DroidNormalizer) resolveCallIndex(id string) (int, bool) {
	if id != "" {
		if idx, ok := n.byID[id]; ok {
			delete(n.byID, id)
			for i, c := range n.fifo {
				if c.index == idx {
					n.fifo = append(n.fifo[:i], n.fifo[i+1:]...)
					break
				}
			}
			return idx, true
		}
		return 0, false
	}
	if len(n.fifo) == 0 {
		return 0, false
	}
	call := n.fifo[0]
	n.fifo = n.fifo[1:]
	if call.id != "" {
		delete(n.byID, call.id)
	}
	return call.index, true
}

func droidApplyPatchChanges(v gjson.Result, worktree string) ([]models.FileChange, bool) {
	if v.Get("value.diff").Exists() {
		diff := v.Get("value.diff").String()
		path := gitops.MakePathRelative(v.Get("value.path").String(), worktree)
		return []models.FileChange{{Kind: models.FileChangeEdit, Path: path, UnifiedDiff: &diff}}, true
	}
	if v.Get("value.fullContent").Exists() {
		content := v.Get("value.fullContent").String()
		path := gitops.MakePathRelative(v.Get("value.path").String(), worktree)
		return []models.FileChange{{Kind: models.FileChangeWrite, Path: path, Content: &content}}, true
	}
	return nil, false
}
