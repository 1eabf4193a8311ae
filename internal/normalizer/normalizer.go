package normalizer

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cspellhq/hivenode/internal/models"
)

// LogNormalizer is implemented once per supported coding agent. It is a pure
// function over its input stream: process_event never suspends, it only
// mutates in-memory parser state and returns the patches to apply. I/O
// (persisting log entries, publishing patches) is the Driver's job.
type LogNormalizer interface {
	// ParseLine parses one text frame. ok is false for lines that carry no
	// recognizable event (the driver still records them as a plain LogEntry).
	ParseLine(line string) (event any, ok bool)

	// ExtractSessionID pulls the agent's opaque session id from event, if
	// this event carries one.
	ExtractSessionID(event any) (sessionID string, ok bool)

	// ProcessEvent folds event into internal parser state and returns zero or
	// more patches to apply to the indexed conversation.
	ProcessEvent(event any) []models.JSONPatch
}

// PatchSink receives patches as a normalizer driver produces them, and is
// also told about discovered session ids and raw lines for LogEntry
// persistence.
type PatchSink interface {
	ApplyPatch(models.JSONPatch)
	RecordSessionID(sessionID string)
	RecordLine(outputType, line string)
}

// Driver consumes lines from a process's stdout and stderr concurrently,
// feeding stdout through norm and stderr through a plain-text coalescing
// processor. Both loops terminate when their underlying reader closes.
type Driver struct {
	norm  LogNormalizer
	sink  PatchSink
	index *EntryIndexProvider

	stderr *stderrProcessor
}

// NewDriver builds a Driver bound to norm and sink, using index to assign
// fresh conversation positions to both stdout-derived and stderr-derived
// entries.
func NewDriver(norm LogNormalizer, sink PatchSink, index *EntryIndexProvider) *Driver {
	return &Driver{
		norm:   norm,
		sink:   sink,
		index:  index,
		stderr: newStderrProcessor(index, sink, 500*time.Millisecond),
	}
}

// RunStdout scans r line by line, applying norm's event/patch pipeline.
// Errors inside a single line's processing never propagate: a line that does
// not parse yields no entry, and a panic while processing a line is converted
// into a SystemMessage entry so it cannot crash the attempt.
func (d *Driver) RunStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		d.ProcessStdoutLine(scanner.Text())
	}
}

// ProcessStdoutLine feeds one already-read stdout line through the
// normalizer pipeline. Used directly by callers (such as the task-attempt
// engine) that already own the line-reading loop, e.g. via a process
// supervisor's LineHandler, so the line is not scanned twice.
func (d *Driver) ProcessStdoutLine(line string) {
	d.sink.RecordLine("stdout", line)
	d.processLine(line)
}

func (d *Driver) processLine(line string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[NORMALIZER] panic processing line, emitting error entry", "panic", r)
			d.sink.ApplyPatch(models.JSONPatch{
				Op:    models.PatchAdd,
				Index: d.index.Next(),
				Entry: &models.NormalizedEntry{
					Kind:      models.EntrySystemMessage,
					Content:   "failed to parse agent output line",
					Timestamp: time.Now().Unix(),
				},
			})
		}
	}()

	event, ok := d.norm.ParseLine(line)
	if !ok {
		return
	}
	if sessionID, ok := d.norm.ExtractSessionID(event); ok && sessionID != "" {
		d.sink.RecordSessionID(sessionID)
	}
	for _, patch := range d.norm.ProcessEvent(event) {
		d.sink.ApplyPatch(patch)
	}
}

// RunStderr scans r line by line, coalescing lines within a time-gap window
// into ErrorMessage entries with ANSI escapes stripped.
func (d *Driver) RunStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		d.ProcessStderrLine(scanner.Text())
	}
	d.stderr.Flush()
}

// ProcessStderrLine feeds one already-read stderr line through the
// coalescing stderr processor, mirroring ProcessStdoutLine. Flush is not
// called here; the caller invokes it once its stream has closed.
func (d *Driver) ProcessStderrLine(line string) {
	d.sink.RecordLine("stderr", line)
	d.stderr.Feed(line)
}

// Flush closes any in-progress stderr coalescing window, for callers driving
// ProcessStderrLine directly instead of RunStderr.
func (d *Driver) Flush() {
	d.stderr.Flush()
}

// memorySink is a minimal PatchSink used by normalizer unit tests and by
// callers that want to inspect patches without a store round-trip.
type memorySink struct {
	mu         sync.Mutex
	Patches    []models.JSONPatch
	SessionIDs []string
	Lines      [][2]string
}

func (s *memorySink) ApplyPatch(p models.JSONPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Patches = append(s.Patches, p)
}

func (s *memorySink) RecordSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SessionIDs = append(s.SessionIDs, id)
}

func (s *memorySink) RecordLine(outputType, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lines = append(s.Lines, [2]string{outputType, line})
}
