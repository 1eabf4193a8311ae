package normalizer

import "github.com/cspellhq/hivenode/internal/models"

// New dispatches on a CodingAgent tag to build the matching LogNormalizer,
// the one place a heterogeneous set of per-agent parsers is resolved to a
// shared interface handle.
func New(agent models.CodingAgent, worktreePath string, index *EntryIndexProvider) LogNormalizer {
	switch agent {
	case models.AgentCodex:
		return NewCodexNormalizer(worktreePath, index)
	case models.AgentDroid:
		return NewDroidNormalizer(worktreePath, index)
	case models.AgentClaudeCode:
		return NewClaudeCodeNormalizer(index)
	default:
		return NewPassthroughNormalizer(index)
	}
}
