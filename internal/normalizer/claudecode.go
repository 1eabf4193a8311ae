package normalizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cspellhq/hivenode/internal/models"
)

// ClaudeCodeNormalizer parses the Claude Code CLI's line-delimited JSON
// stream (the same "system"/"user"/"assistant" event shapes the CLI itself
// emits).
type ClaudeCodeNormalizer struct {
	index *EntryIndexProvider

	streamingAssistant *streamSlot
	toolCalls          map[string]int // tool_use id -> entry index
}

// NewClaudeCodeNormalizer constructs a normalizer for one Claude Code process.
func NewClaudeCodeNormalizer(index *EntryIndexProvider) *ClaudeCodeNormalizer {
	return &ClaudeCodeNormalizer{index: index, toolCalls: make(map[string]int)}
}

func (n *ClaudeCodeNormalizer) ParseLine(line string) (any, bool) {
	if !gjson.Valid(line) {
		return nil, false
	}
	return gjson.Parse(line), true
}

func (n *ClaudeCodeNormalizer) ExtractSessionID(event any) (string, bool) {
	v := event.(gjson.Result)
	if v.Get("type").String() == "system" {
		if sid := v.Get("session_id"); sid.Exists() && sid.String() != "" {
			return sid.String(), true
		}
	}
	return "", false
}

func (n *ClaudeCodeNormalizer) ProcessEvent(event any) []models.JSONPatch {
	v := event.(gjson.Result)
	now := time.Now().Unix()

	switch v.Get("type").String() {
	case "system":
		return nil
	case "user":
		return n.userMessage(v, now)
	case "assistant":
		return n.assistantMessage(v, now)
	case "result":
		return n.toolResults(v, now)
	default:
		return nil
	}
}

func (n *ClaudeCodeNormalizer) userMessage(v gjson.Result, now int64) []models.JSONPatch {
	var text strings.Builder
	v.Get("message.content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})
	if text.Len() == 0 {
		return nil
	}
	return []models.JSONPatch{{Op: models.PatchAdd, Index: n.index.Next(), Entry: &models.NormalizedEntry{
		Kind: models.EntryUserMessage, Content: text.String(), Timestamp: now,
	}}}
}

func (n *ClaudeCodeNormalizer) assistantMessage(v gjson.Result, now int64) []models.JSONPatch {
	var patches []models.JSONPatch
	v.Get("message.content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			patches = append(patches, models.JSONPatch{Op: models.PatchAdd, Index: n.index.Next(), Entry: &models.NormalizedEntry{
				Kind: models.EntryAssistantMessage, Content: block.Get("text").String(), Timestamp: now,
			}})
		case "tool_use":
			id := block.Get("id").String()
			idx := n.index.Next()
			n.toolCalls[id] = idx
			patches = append(patches, models.JSONPatch{Op: models.PatchAdd, Index: idx, Entry: &models.NormalizedEntry{
				Kind: models.EntryToolUse, ToolName: block.Get("name").String(), Status: models.ToolCreated,
				Action: &models.Action{Kind: models.ActionTool, Name: block.Get("name").String(), Args: block.Get("input").Raw},
				Timestamp: now,
			}})
		}
		return true
	})
	return patches
}

func (n *ClaudeCodeNormalizer) toolResults(v gjson.Result, now int64) []models.JSONPatch {
	var patches []models.JSONPatch
	v.Get("tool_results").ForEach(func(_, tr gjson.Result) bool {
		id := tr.Get("tool_use_id").String()
		idx, ok := n.toolCalls[id]
		status := models.ToolSuccess
		if tr.Get("is_error").Bool() {
			status = models.ToolFailed
		}
		if tr.Get("denied").Bool() {
			patches = append(patches, models.JSONPatch{Op: models.PatchAdd, Index: n.index.Next(), Entry: &models.NormalizedEntry{
				Kind: models.EntryUserFeedback, DeniedTool: tr.Get("tool_name").String(), Timestamp: now,
			}})
			return true
		}
		result := tr.Get("content").String()
		entry := &models.NormalizedEntry{
			Kind: models.EntryToolUse, Status: status,
			Action: &models.Action{Kind: models.ActionTool, Result: &result}, Timestamp: now,
		}
		if ok {
			delete(n.toolCalls, id)
			patches = append(patches, models.JSONPatch{Op: models.PatchReplace, Index: idx, Entry: entry})
		} else {
			patches = append(patches, models.JSONPatch{Op: models.PatchAdd, Index: n.index.Next(), Entry: entry})
		}
		return true
	})
	return patches
}

// --- Session-index repair ---
//
// Claude Code maintains a per-project sessions-index.json alongside the
// transcript *.jsonl files it writes under ~/.claude/projects/<escaped-path>.
// The index can go missing or stale; RepairSessionIndex rebuilds it by
// scanning the transcripts directly. Repair is idempotent and never guesses:
// a transcript it cannot parse is skipped and logged, not fabricated.

// SessionIndexEntry is one row of the rebuilt sessions-index.json.
type SessionIndexEntry struct {
	SessionID    string `json:"session_id"`
	CreatedAt    int64  `json:"created_at"`
	FirstPrompt  string `json:"first_prompt"`
	GitBranch    string `json:"git_branch,omitempty"`
	MessageCount int    `json:"message_count"`
	ModifiedAt   int64  `json:"modified_at"`
}

// EscapeProjectPath replaces "/" with "-" and strips a leading "-", matching
// the directory-naming rule Claude Code itself uses under ~/.claude/projects.
func EscapeProjectPath(absRepoPath string) string {
	escaped := strings.ReplaceAll(absRepoPath, "/", "-")
	return strings.TrimPrefix(escaped, "-")
}

// RepairSessionIndex scans every *.jsonl transcript under projectDir and
// rewrites sessions-index.json sorted by session id.
func RepairSessionIndex(projectDir string) error {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read claude project dir: %w", err)
	}

	var index []SessionIndexEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".jsonl") {
			continue
		}
		path := filepath.Join(projectDir, e.Name())
		entry, err := scanTranscript(path)
		if err != nil {
			slog.Warn("[CLAUDE-SESSION-INDEX] skipping unparseable transcript", "path", path, "error", err)
			continue
		}
		index = append(index, entry)
	}

	sort.Slice(index, func(i, j int) bool { return index[i].SessionID < index[j].SessionID })

	raw, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, "sessions-index.json"), raw, 0o644); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	slog.Info("[CLAUDE-SESSION-INDEX] rebuilt", "dir", projectDir, "sessions", len(index))
	return nil
}

func scanTranscript(path string) (SessionIndexEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return SessionIndexEntry{}, err
	}
	defer f.Close()

	base := filepath.Base(path)
	sessionID := strings.TrimSuffix(base, filepath.Ext(base))

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var entry SessionIndexEntry
	entry.SessionID = sessionID
	lineCount := 0
	firstLineSeen := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lineCount++
		if !firstLineSeen {
			firstLineSeen = true
			v := gjson.ParseBytes(line)
			entry.CreatedAt = v.Get("timestamp").Int()
			entry.GitBranch = v.Get("gitBranch").String()
			entry.FirstPrompt = firstTextContent(v)
		}
	}
	if err := scanner.Err(); err != nil {
		return SessionIndexEntry{}, err
	}
	if !firstLineSeen {
		return SessionIndexEntry{}, fmt.Errorf("empty transcript")
	}
	entry.MessageCount = lineCount

	if info, err := os.Stat(path); err == nil {
		entry.ModifiedAt = info.ModTime().Unix()
	}

	return entry, nil
}

func firstTextContent(v gjson.Result) string {
	content := v.Get("message.content")
	if !content.IsArray() {
		return content.String()
	}
	var found string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			found = block.Get("text").String()
			return false
		}
		return true
	})
	return found
}
