package normalizer

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cspellhq/hivenode/internal/models"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// stderrProcessor coalesces stderr lines that arrive within gap of each
// other into a single ErrorMessage entry, using add-then-replace against the
// same index the way streaming assistant text does.
type stderrProcessor struct {
	mu       sync.Mutex
	index    *EntryIndexProvider
	sink     PatchSink
	gap      time.Duration
	open     bool
	openIdx  int
	lines    []string
	lastSeen time.Time
}

func newStderrProcessor(index *EntryIndexProvider, sink PatchSink, gap time.Duration) *stderrProcessor {
	return &stderrProcessor{index: index, sink: sink, gap: gap}
}

// Feed appends one stderr line, opening a new entry if the gap since the
// last line exceeded the coalescing window.
func (p *stderrProcessor) Feed(line string) {
	clean := stripANSI(line)
	if strings.TrimSpace(clean) == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.open && now.Sub(p.lastSeen) > p.gap {
		p.closeLocked()
	}
	if !p.open {
		p.openIdx = p.index.Next()
		p.open = true
		p.lines = nil
	}
	p.lines = append(p.lines, clean)
	p.lastSeen = now

	op := models.PatchAdd
	if len(p.lines) > 1 {
		op = models.PatchReplace
	}
	p.sink.ApplyPatch(models.JSONPatch{
		Op:    op,
		Index: p.openIdx,
		Entry: &models.NormalizedEntry{
			Kind:      models.EntryErrorMessage,
			ErrorKind: "other",
			Content:   strings.Join(p.lines, "\n"),
			Timestamp: now.Unix(),
		},
	})
}

// Flush closes any open coalescing window, called when the stderr stream
// closes.
func (p *stderrProcessor) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *stderrProcessor) closeLocked() {
	p.open = false
	p.lines = nil
}
