// Package terminal manages interactive PTY sessions opened on a worktree
// path, used by the node's UI to drop a user into a live shell alongside a
// task attempt. PTY handling is grounded on the engine package's pty.Open
// usage: a master/slave pair, stdin piped in, stdout/stderr (here,
// interactive both ways) copied through the master.
package terminal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/cspellhq/hivenode/internal/models"
)

// DefaultCols and DefaultRows size a freshly opened PTY absent a resize.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// SessionID derives the deterministic id for a path: reopening the same
// path always yields the same id, so a second open attaches instead of
// spawning a duplicate shell.
func SessionID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "vk-" + hex.EncodeToString(sum[:])[:8]
}

// session is one live PTY and its fanout of readers.
type session struct {
	ptmx *os.File
	cmd  *exec.Cmd

	mu   sync.Mutex
	subs map[chan []byte]struct{}

	closed   bool
	closedCh chan struct{}
}

// Manager opens, attaches to, and tears down PTY sessions. One process
// runs one Manager; sessions do not survive a restart (the teacher's
// ExecutionProcess orphan-reaping does not apply here — a dropped PTY is
// simply gone, matching an interactive shell's usual semantics).
type Manager struct {
	store *Store
	shell string

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a Manager. shell is the command used to start a new
// session (e.g. "/bin/bash" or "/bin/zsh"); empty defaults to $SHELL.
func NewManager(store *Store, shell string) *Manager {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Manager{store: store, shell: shell, sessions: make(map[string]*session)}
}

// Open returns the existing live session for path, or starts a new shell
// there, recording it in the store under its deterministic id.
func (m *Manager) Open(ctx context.Context, path string) (id string, err error) {
	id = SessionID(path)

	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	cmd := exec.Command(m.shell)
	cmd.Dir = path
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: DefaultCols, Rows: DefaultRows})
	if err != nil {
		return "", fmt.Errorf("start terminal session: %w", err)
	}

	sess := &session{ptmx: ptmx, cmd: cmd, subs: make(map[chan []byte]struct{}), closedCh: make(chan struct{})}
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	if err := m.store.Insert(ctx, &models.TerminalSession{
		ID: id, Path: path, Backend: m.shell, CreatedAt: time.Now().Unix(),
	}); err != nil {
		ptmx.Close()
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return "", err
	}

	go m.pump(id, sess)
	go m.reap(id, sess)
	return id, nil
}

// pump copies PTY output to every subscriber registered via Subscribe.
func (m *Manager) pump(id string, sess *session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			sess.mu.Lock()
			for ch := range sess.subs {
				select {
				case ch <- chunk:
				default:
				}
			}
			sess.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) reap(id string, sess *session) {
	_ = sess.cmd.Wait()
	sess.mu.Lock()
	sess.closed = true
	close(sess.closedCh)
	for ch := range sess.subs {
		close(ch)
	}
	sess.subs = nil
	sess.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	_ = m.store.MarkClosed(context.Background(), id, time.Now().Unix())
}

// Write sends keystrokes to the session's PTY.
func (m *Manager) Write(id string, data []byte) error {
	sess, ok := m.get(id)
	if !ok {
		return fmt.Errorf("terminal: session %s not open", id)
	}
	_, err := sess.ptmx.Write(data)
	return err
}

// Resize applies a new PTY size, e.g. when a browser tab is resized.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	sess, ok := m.get(id)
	if !ok {
		return fmt.Errorf("terminal: session %s not open", id)
	}
	return pty.Setsize(sess.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Subscribe registers ch to receive output chunks until the session closes
// or unsubscribe is called. The returned bool reports whether the session
// was live at subscribe time.
func (m *Manager) Subscribe(id string, ch chan []byte) (unsubscribe func(), ok bool) {
	sess, ok := m.get(id)
	if !ok {
		return func() {}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return func() {}, false
	}
	sess.subs[ch] = struct{}{}
	return func() {
		sess.mu.Lock()
		delete(sess.subs, ch)
		sess.mu.Unlock()
	}, true
}

// Close terminates a session's shell.
func (m *Manager) Close(id string) error {
	sess, ok := m.get(id)
	if !ok {
		return nil
	}
	return sess.cmd.Process.Kill()
}

func (m *Manager) get(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}
