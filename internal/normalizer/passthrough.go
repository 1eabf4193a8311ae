package normalizer

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/cspellhq/hivenode/internal/models"
)

// PassthroughNormalizer handles agents with no dedicated dialect (Cursor,
// Gemini, OpenCode): JSON lines are rendered as SystemMessage entries
// carrying their raw text; non-JSON lines are rendered as AssistantMessage,
// since these agents tend to emit plain prose to stdout.
type PassthroughNormalizer struct {
	index *EntryIndexProvider
}

// NewPassthroughNormalizer constructs a fallback normalizer.
func NewPassthroughNormalizer(index *EntryIndexProvider) *PassthroughNormalizer {
	return &PassthroughNormalizer{index: index}
}

func (n *PassthroughNormalizer) ParseLine(line string) (any, bool) {
	if line == "" {
		return nil, false
	}
	return line, true
}

func (n *PassthroughNormalizer) ExtractSessionID(event any) (string, bool) {
	line := event.(string)
	if !gjson.Valid(line) {
		return "", false
	}
	if sid := gjson.Get(line, "session_id"); sid.Exists() {
		return sid.String(), true
	}
	return "", false
}

func (n *PassthroughNormalizer) ProcessEvent(event any) []models.JSONPatch {
	line := event.(string)
	now := time.Now().Unix()

	kind := models.EntryAssistantMessage
	content := line
	if gjson.Valid(line) {
		kind = models.EntrySystemMessage
		content = line
	}

	return []models.JSONPatch{{Op: models.PatchAdd, Index: n.index.Next(), Entry: &models.NormalizedEntry{
		Kind: kind, Content: content, Timestamp: now,
	}}}
}
