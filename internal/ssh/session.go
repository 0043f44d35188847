package ssh

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// CommandResult holds a finished command's stdout, stderr, exit code, and
// signal. ExitCode == nil is legal only for raw-mode success and for
// abnormal termination.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode *int
	Signal   *string
}

// commandRequest is one queued command: an opaque id, the command text, an
// outcome sink, a per-command timeout, and a raw flag. Resolved
// exactly once — by framed completion, by timeout, or by session
// termination.
type commandRequest struct {
	id      string
	cmd     string
	timeout time.Duration
	raw     bool

	// resultCh is the single-shot outcome channel; nil for background requests, which never
	// have a caller waiting.
	resultCh chan commandOutcome
}

type commandOutcome struct {
	result CommandResult
	err    error
}

// SessionInfo is a deep-copied, read-only snapshot of Session state.
// Mutating it never affects the live Session.
type SessionInfo struct {
	SessionID    string      `json:"sessionId"`
	Host         string      `json:"host"`
	Username     string      `json:"username"`
	Port         int         `json:"port"`
	Type         SessionType `json:"type"`
	Mode         SessionMode `json:"mode"`
	ShellKind    ShellKind   `json:"shellKind"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastActivity time.Time   `json:"lastActivity"`
	IsActive     bool        `json:"isActive"`
}

// CommandFilter inspects a command string before it is enqueued. Returning
// false rejects it with PolicyDenied, without touching the channel or the
// history.
type CommandFilter func(cmd string) bool

// Session owns exactly one interactive shell channel on a transport and
// exposes a linearized command-execution interface over it.
type Session struct {
	id        string
	host      string
	username  string
	port      int
	typ       SessionType
	mode      SessionMode
	shellKind ShellKind
	formatter Formatter
	cfg       SessionConfig

	conn   *ssh.Client
	stdin  *sshWriteCloser
	stdout <-chan []byte
	stderr <-chan []byte

	createdAt time.Time

	log *logrus.Entry

	mu               sync.Mutex
	lastActivity     time.Time
	isActive         bool
	commandHistory   []string
	environmentVars  map[string]string // reserved, never populated
	workingDirectory string            // reserved, advisory only
	delimStem        string

	commandQueue []*commandRequest
	current      *commandRequest
	currentAccum strings.Builder

	outputBuffer []string

	filter CommandFilter

	inactivityTimer *time.Timer
	commandTimer    *time.Timer

	onTimeout func(sessionID string)
	onClosed  func(sessionID string)
	onError   func(sessionID string, err error)

	closeOnce sync.Once
	session   *ssh.Session // the underlying shell channel
}

// SessionOptions are the caller-supplied parameters for NewSession.
type SessionOptions struct {
	ID        string
	Host      string
	Username  string
	Port      int
	Type      SessionType
	Mode      SessionMode
	ShellKind ShellKind
	Config    SessionConfig
	Filter    CommandFilter

	OnTimeout func(sessionID string)
	OnClosed  func(sessionID string)
	OnError   func(sessionID string, err error)
}

// NewSession constructs a Session bound to conn. It does not open the shell
// channel yet — call Initialize for that.
func NewSession(conn *ssh.Client, opts SessionOptions) (*Session, error) {
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, newErr(KindInvalidArgument, "port must be in [1, 65535], got %d", opts.Port)
	}
	if opts.Mode == "" {
		opts.Mode = ModeNormal
	}
	if opts.ShellKind == "" {
		opts.ShellKind = ShellBash
	}
	if opts.Config == (SessionConfig{}) {
		opts.Config = DefaultSessionConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	stem, err := randomDelimiterStem()
	if err != nil {
		return nil, wrapErr(KindShellFailure, err, "generate delimiter stem")
	}

	s := &Session{
		id:        opts.ID,
		host:      opts.Host,
		username:  opts.Username,
		port:      opts.Port,
		typ:       opts.Type,
		mode:      opts.Mode,
		shellKind: opts.ShellKind,
		formatter: FormatterFor(opts.ShellKind),
		cfg:       opts.Config,
		conn:      conn,
		createdAt: time.Now(),
		delimStem: stem,
		filter:    opts.Filter,
		onTimeout: opts.OnTimeout,
		onClosed:  opts.OnClosed,
		onError:   opts.OnError,
		log: logrus.WithFields(logrus.Fields{
			"component":  "session",
			"session_id": opts.ID,
			"host":       opts.Host,
		}),
	}
	return s, nil
}

func randomDelimiterStem() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	stem := strings.ReplaceAll(id.String(), "-", "")
	if len(stem) < minDelimiterTail {
		return "", fmt.Errorf("delimiter stem too short")
	}
	return stem, nil
}

// Initialize opens the shell channel, installs the byte consumers, arms the
// keep-alive and inactivity timers, waits out the startup-settle delay, and
// marks the session active. Double-initialize is a no-op.
func (s *Session) Initialize() error {
	s.mu.Lock()
	if s.isActive {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sess, err := s.conn.NewSession()
	if err != nil {
		return wrapErr(KindShellFailure, err, "open session for %s", s.id)
	}

	stdinPipe, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return wrapErr(KindShellFailure, err, "stdin pipe for %s", s.id)
	}
	stdoutPipe, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return wrapErr(KindShellFailure, err, "stdout pipe for %s", s.id)
	}
	stderrPipe, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return wrapErr(KindShellFailure, err, "stderr pipe for %s", s.id)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return wrapErr(KindShellFailure, err, "start shell for %s", s.id)
	}

	stdoutCh := make(chan []byte, 64)
	stderrCh := make(chan []byte, 64)
	go pumpChunks(stdoutPipe, stdoutCh)
	go pumpChunks(stderrPipe, stderrCh)

	s.mu.Lock()
	s.session = sess
	s.stdin = &sshWriteCloser{w: stdinPipe}
	s.stdout = stdoutCh
	s.stderr = stderrCh
	s.isActive = true
	s.lastActivity = time.Now()
	s.mu.Unlock()

	go s.consumeLoop()
	go s.watchClose(sess)

	time.Sleep(startupSettleDelay)

	s.armKeepAlive()
	s.armInactivity()

	s.log.Info("session initialized")
	return nil
}

type sshWriteCloser struct {
	mu sync.Mutex
	w  interface {
		Write([]byte) (int, error)
	}
}

func (w *sshWriteCloser) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func pumpChunks(r interface {
	Read([]byte) (int, error)
}, out chan<- []byte) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			close(out)
			return
		}
	}
}

// watchClose waits for the underlying channel to end, then fires the
// closed lifecycle transition. A non-nil Wait error means the
// channel died abnormally (not via our own Close), so it's reported through
// onError before the session is torn down.
func (s *Session) watchClose(sess *ssh.Session) {
	if err := sess.Wait(); err != nil {
		if s.onError != nil {
			s.onError(s.id, err)
		}
	}
	s.Close()
}

// consumeLoop is the single consumer of inbound bytes. The state it touches
// (commandQueue, currentAccum, outputBuffer) is also changed by
// ExecuteCommand, pump and GetBufferedOutput, always under s.mu.
func (s *Session) consumeLoop() {
	for {
		s.mu.Lock()
		stdout, stderr := s.stdout, s.stderr
		s.mu.Unlock()
		if stdout == nil && stderr == nil {
			return
		}
		select {
		case chunk, ok := <-stdout:
			if !ok {
				s.mu.Lock()
				s.stdout = nil
				s.mu.Unlock()
				continue
			}
			s.handleChunk(chunk)
		case chunk, ok := <-stderr:
			if !ok {
				s.mu.Lock()
				s.stderr = nil
				s.mu.Unlock()
				continue
			}
			// The framer does not distinguish stderr from stdout on the
			// interactive channel — fold it into the same accumulator so
			// framing still finds start/end markers that a command printed
			// to stdout.
			s.handleChunk(chunk)
		}
	}
}

func (s *Session) handleChunk(chunk []byte) {
	s.mu.Lock()

	if s.typ == TypeBackground {
		s.appendBufferLocked(string(chunk))
	}

	if s.current == nil {
		s.mu.Unlock()
		return
	}
	s.currentAccum.Write(chunk)

	if s.current.raw {
		s.mu.Unlock()
		return // raw mode resolves on timer only, never on content
	}

	accum := s.currentAccum.String()
	id := s.current.id
	start := s.delimStem + "_START_" + id
	end := s.delimStem + "_END_" + id

	if !strings.Contains(accum, start) {
		// Command echo may have been truncated; wait for more data or
		// time out rather than resolving on a partial match.
		s.mu.Unlock()
		return
	}

	code, found := s.formatter.ExtractExitCode(accum, end)
	if !found {
		s.mu.Unlock()
		return
	}

	startIdx := indexLast(accum, start)
	endIdx := indexLast(accum, end)
	if endIdx < startIdx {
		s.mu.Unlock()
		return
	}
	body := accum[startIdx+len(start) : endIdx]
	body = trimOneBlankLine(body)
	s.mu.Unlock()

	s.resolveCurrent(CommandResult{Stdout: body, Stderr: "", ExitCode: &code}, nil)
}

// trimOneBlankLine strips exactly one leading and one trailing blank line.
func trimOneBlankLine(s string) string {
	if strings.HasPrefix(s, "\r\n") {
		s = s[2:]
	} else {
		s = strings.TrimPrefix(s, "\n")
	}
	if strings.HasSuffix(s, "\r\n") {
		s = s[:len(s)-2]
	} else {
		s = strings.TrimSuffix(s, "\n")
	}
	return s
}

// appendBufferLocked appends a chunk to the bounded output buffer and trims
// on overflow. Caller must hold s.mu.
//
// Uses an entry-count ring rather than a byte-budget ring, since background
// sessions keep one buffer entry per inbound chunk, not one per byte.
func (s *Session) appendBufferLocked(chunk string) {
	s.outputBuffer = append(s.outputBuffer, chunk)
	if len(s.outputBuffer) > s.cfg.BufferMaxSize {
		trimTo := s.cfg.BufferTrimTo
		s.outputBuffer = append([]string(nil), s.outputBuffer[len(s.outputBuffer)-trimTo:]...)
	}
}

// ExecuteCommand validates, enqueues, and (for interactive sessions)
// suspends on the Command Request's outcome. Background sessions return
// immediately with a synthetic success.
func (s *Session) ExecuteCommand(cmd string, timeout time.Duration, raw bool) (CommandResult, error) {
	if cmd == "" {
		return CommandResult{}, newErr(KindInvalidArgument, "command must not be empty")
	}
	if timeout <= 0 {
		return CommandResult{}, newErr(KindInvalidArgument, "timeout must be positive")
	}

	s.mu.Lock()
	if !s.isActive {
		s.mu.Unlock()
		return CommandResult{}, ErrSessionInactive
	}
	if s.filter != nil && !s.filter(cmd) {
		s.mu.Unlock()
		return CommandResult{}, ErrPolicyDenied
	}

	id := uuid.NewString()
	req := &commandRequest{id: id, cmd: cmd, timeout: timeout, raw: raw}

	s.commandHistory = append(s.commandHistory, cmd)
	s.lastActivity = time.Now()
	s.resetInactivityLocked()

	if s.typ == TypeBackground {
		s.commandQueue = append(s.commandQueue, req)
		shouldPump := s.current == nil
		s.mu.Unlock()
		if shouldPump {
			s.pump()
		}
		exitCode := 0
		return CommandResult{
			Stdout:   fmt.Sprintf("Command '%s' queued in background session '%s'", cmd, s.id),
			ExitCode: &exitCode,
		}, nil
	}

	req.resultCh = make(chan commandOutcome, 1)
	s.commandQueue = append(s.commandQueue, req)
	shouldPump := s.current == nil
	s.mu.Unlock()

	if shouldPump {
		s.pump()
	}

	outcome := <-req.resultCh
	return outcome.result, outcome.err
}

// pump dequeues the head request (if none is in flight) and dispatches it.
// req becomes s.current and its timer is armed before s.mu is released, so
// there is no window in which a different request could be mistaken for
// the one the timer was armed for; every callback below re-checks identity
// against req regardless, since the write itself still happens unlocked.
func (s *Session) pump() {
	s.mu.Lock()
	if s.current != nil || len(s.commandQueue) == 0 || !s.isActive {
		s.mu.Unlock()
		return
	}
	req := s.commandQueue[0]
	s.commandQueue = s.commandQueue[1:]
	s.current = req
	s.currentAccum.Reset()
	stdin := s.stdin

	if req.raw {
		s.armCommandTimerLocked(req.timeout, func() {
			s.mu.Lock()
			if s.current != req {
				s.mu.Unlock()
				return
			}
			result := CommandResult{Stdout: s.currentAccum.String()}
			exitCode := 0
			result.ExitCode = &exitCode
			s.resolveCurrentLocked(result, nil)
		})
		s.mu.Unlock()

		if _, err := stdin.Write([]byte(req.cmd + "\n")); err != nil {
			s.failRequest(req, wrapErr(KindStreamError, err, "write raw command"))
		}
		return
	}

	id := req.id
	start := s.delimStem + "_START_" + id
	end := s.delimStem + "_END_" + id
	wrapped, err := s.formatter.Wrap(req.cmd, start, end)
	if err != nil {
		s.mu.Unlock()
		s.failRequest(req, err)
		return
	}

	s.armCommandTimerLocked(req.timeout, func() {
		s.failRequest(req, ErrCommandTimeout)
	})
	s.mu.Unlock()

	if _, err := stdin.Write([]byte(wrapped + "\n")); err != nil {
		s.failRequest(req, wrapErr(KindStreamError, err, "write command"))
	}
}

// armCommandTimerLocked arms the per-command timer. Caller must hold s.mu.
func (s *Session) armCommandTimerLocked(timeout time.Duration, onFire func()) {
	if s.commandTimer != nil {
		s.commandTimer.Stop()
	}
	s.commandTimer = time.AfterFunc(timeout, onFire)
}

// resolveCurrentLocked resolves s.current with result/err and re-pumps. The
// caller must hold s.mu; resolveCurrentLocked releases it before the
// (possibly blocking) send and the resulting re-pump.
func (s *Session) resolveCurrentLocked(result CommandResult, err error) {
	req := s.current
	s.current = nil
	if s.commandTimer != nil {
		s.commandTimer.Stop()
	}
	s.mu.Unlock()

	if req != nil && req.resultCh != nil {
		req.resultCh <- commandOutcome{result: result, err: err}
	}
	s.pump()
}

// resolveCurrent resolves s.current with result/err. Takes the lock itself;
// callers must not already hold it.
func (s *Session) resolveCurrent(result CommandResult, err error) {
	s.mu.Lock()
	s.resolveCurrentLocked(result, err)
}

// failRequest resolves req with err, but only if req is still the in-flight
// request. A write failure or timer fire that loses the race against an
// already-completed request (e.g. dispatch failed for A but the consume
// loop had already framed A's output and re-pumped to B) becomes a no-op
// instead of wrongly failing whatever command has since taken its place.
func (s *Session) failRequest(req *commandRequest, err error) {
	s.mu.Lock()
	if s.current != req {
		s.mu.Unlock()
		return
	}
	s.resolveCurrentLocked(CommandResult{}, err)
}

func (s *Session) resetInactivityLocked() {
	if s.inactivityTimer != nil {
		s.inactivityTimer.Stop()
	}
	s.inactivityTimer = time.AfterFunc(s.cfg.SessionTimeout, func() {
		s.log.Warn("session inactivity timeout")
		if s.onTimeout != nil {
			s.onTimeout(s.id)
		}
		s.Close()
	})
}

func (s *Session) armInactivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetInactivityLocked()
}

// armKeepAlive starts the keep-alive ticker: it emits the
// formatter's keep-alive string only when active, idle, and no command is
// in flight, so it never interleaves with a command's framing.
func (s *Session) armKeepAlive() {
	go func() {
		ticker := time.NewTicker(DefaultKeepAliveInterval)
		defer ticker.Stop()
		for range ticker.C {
			s.mu.Lock()
			active := s.isActive
			idle := s.current == nil && len(s.commandQueue) == 0
			stdin := s.stdin
			s.mu.Unlock()
			if !active {
				return
			}
			if !idle {
				continue
			}
			if stdin != nil {
				_, _ = stdin.Write([]byte(s.formatter.KeepAlive()))
			}
		}
	}()
}

// GetBufferedOutput returns a copy of the last `lines` buffered entries (or
// all if lines == 0), optionally clearing the buffer after the copy.
func (s *Session) GetBufferedOutput(lines int, clear bool) ([]string, error) {
	if lines < 0 {
		return nil, newErr(KindInvalidArgument, "lines must be positive, or 0 for all")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.outputBuffer
	if lines > 0 && lines < len(buf) {
		buf = buf[len(buf)-lines:]
	}
	out := make([]string, len(buf))
	copy(out, buf)

	if clear {
		s.outputBuffer = nil
	}
	return out, nil
}

// Info returns a deep-copied, read-only snapshot.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		SessionID:    s.id,
		Host:         s.host,
		Username:     s.username,
		Port:         s.port,
		Type:         s.typ,
		Mode:         s.mode,
		ShellKind:    s.shellKind,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		IsActive:     s.isActive,
	}
}

// Close cancels both timers, clears current/queue (failing any pending
// interactive requests with SessionInactive), sets isActive false, and ends
// the shell channel. Safe to call more than once or
// concurrently with the channel's own close callback.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.isActive = false
		if s.inactivityTimer != nil {
			s.inactivityTimer.Stop()
		}
		if s.commandTimer != nil {
			s.commandTimer.Stop()
		}
		pending := s.commandQueue
		s.commandQueue = nil
		current := s.current
		s.current = nil
		sess := s.session
		s.mu.Unlock()

		for _, req := range pending {
			if req.resultCh != nil {
				req.resultCh <- commandOutcome{err: ErrSessionInactive}
			}
		}
		if current != nil && current.resultCh != nil {
			current.resultCh <- commandOutcome{err: ErrSessionInactive}
		}

		if sess != nil {
			sess.Close()
		}

		s.log.Info("session closed")
		if s.onClosed != nil {
			s.onClosed(s.id)
		}
	})
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// IsActive reports whether the shell channel is open and timers are running.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActive
}
