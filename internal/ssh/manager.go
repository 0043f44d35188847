package ssh

import (
	"bytes"
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Manager fronts the Pool with policy enforcement, owns the session
// registry, and is the one entry point the tools package talks to. Sessions
// are keyed by the caller-supplied session id; CreateSession rejects reuse.
type Manager struct {
	pool   *Pool
	policy Policy
	san    *Sanitizer
	log    *logrus.Entry

	mu           sync.RWMutex
	sessions     map[string]*Session
	sessionOrder []string // insertion order, for ListSessions

	allowRe []*regexp.Regexp
	blockRe []*regexp.Regexp
}

// NewManager constructs a Manager over pool, enforcing policy. Malformed
// allow/block patterns are rejected at construction rather than silently
// ignored, since they are operator-authored and a typo there is a security
// bug.
func NewManager(pool *Pool, policy Policy, logging LoggingConfig) (*Manager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		pool:     pool,
		policy:   policy,
		san:      NewSanitizer(logging),
		sessions: make(map[string]*Session),
		log:      logrus.WithField("component", "manager"),
	}

	for _, p := range policy.AllowedCommands {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, wrapErr(KindInvalidArgument, err, "compile allowed-command pattern %q", p)
		}
		m.allowRe = append(m.allowRe, re)
	}
	for _, p := range policy.BlockedCommands {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, wrapErr(KindInvalidArgument, err, "compile blocked-command pattern %q", p)
		}
		m.blockRe = append(m.blockRe, re)
	}

	return m, nil
}

// checkPolicy applies the allow list, then the block list: if a non-empty
// allow list is configured, a match there is decisive and the block list is
// never consulted for that command; a miss there is a denial. The block list
// is consulted only when no allow list is configured.
func (m *Manager) checkPolicy(cmd string) error {
	if len(m.allowRe) > 0 {
		for _, re := range m.allowRe {
			if re.MatchString(cmd) {
				return nil
			}
		}
		return ErrPolicyDenied
	}
	for _, re := range m.blockRe {
		if re.MatchString(cmd) {
			return ErrPolicyDenied
		}
	}
	return nil
}

// ExecuteOptions are the shared connection parameters for one-shot and
// session-creating calls.
type ExecuteOptions struct {
	Host    string
	Username string
	KeyPath string
	Port    int
}

// execLogFields builds the base logrus fields for a one-shot or session
// event, running the key path through the Sanitizer so a logged event never
// reveals where a private key lives on disk.
func (m *Manager) execLogFields(opts ExecuteOptions) logrus.Fields {
	return logrus.Fields{"host": opts.Host, "key_path": m.san.SanitizeKeyPath(opts.KeyPath)}
}

// ExecuteCommand runs cmd once over a pooled transport and returns its
// result without creating a Session.
func (m *Manager) ExecuteCommand(ctx context.Context, opts ExecuteOptions, cmd string, timeout time.Duration) (CommandResult, error) {
	if err := m.checkPolicy(cmd); err != nil {
		return CommandResult{}, err
	}

	log := m.log.WithFields(m.execLogFields(opts))
	if m.san.ShouldLogCommand() {
		log = log.WithField("command", m.san.SanitizeCommand(cmd))
	}
	log.Info("executing one-shot command")

	conn, err := m.pool.Acquire(ctx, AcquireOptions{
		Host: opts.Host, User: opts.Username, KeyPath: opts.KeyPath, Port: opts.Port,
	})
	if err != nil {
		return CommandResult{}, err
	}

	sess, err := conn.NewSession()
	if err != nil {
		return CommandResult{}, wrapErr(KindShellFailure, err, "open exec session")
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(cmd) }()

	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	select {
	case <-ctx.Done():
		sess.Close()
		return CommandResult{}, wrapErr(KindCommandTimeout, ctx.Err(), "exec %s", m.san.SanitizeCommand(cmd))
	case <-time.After(timeout):
		sess.Close()
		return CommandResult{}, newErr(KindCommandTimeout, "exec exceeded %v: %s", timeout, m.san.SanitizeCommand(cmd))
	case err := <-runErr:
		code := 0
		if exitErr, ok := err.(*ssh.ExitError); ok {
			code = exitErr.ExitStatus()
			err = nil
		}
		if err != nil {
			return CommandResult{}, wrapErr(KindStreamError, err, "exec %s", m.san.SanitizeCommand(cmd))
		}
		log.WithField("exit_code", code).WithField("stdout", m.san.SanitizeOutput(stdout.String())).Info("one-shot command finished")
		return CommandResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: &code}, nil
	}
}

// CreateSession provisions a new Persistent Session over a pooled transport
// and registers it under id. Rejects the call with Duplicate if id is
// already registered, and with LimitExceeded once policy.MaxSessions is
// already registered.
func (m *Manager) CreateSession(ctx context.Context, id string, opts ExecuteOptions, typ SessionType, mode SessionMode, shellKind ShellKind) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, newErr(KindDuplicate, "session %q already exists", id)
	}
	if len(m.sessions) >= m.policy.MaxSessions {
		m.mu.Unlock()
		return nil, newErr(KindLimitExceeded, "max sessions (%d) reached", m.policy.MaxSessions)
	}
	m.mu.Unlock()

	conn, err := m.pool.Acquire(ctx, AcquireOptions{
		Host: opts.Host, User: opts.Username, KeyPath: opts.KeyPath, Port: opts.Port,
	})
	if err != nil {
		return nil, err
	}

	sessCfg := DefaultSessionConfig()
	sessCfg.SessionTimeout = m.policy.SessionTimeout

	sess, err := NewSession(conn, SessionOptions{
		ID:        id,
		Host:      opts.Host,
		Username:  opts.Username,
		Port:      opts.Port,
		Type:      typ,
		Mode:      mode,
		ShellKind: shellKind,
		Config:    sessCfg,
		Filter:    m.checkPolicyFilter,
		OnClosed:  m.removeSession,
		OnTimeout: func(sessionID string) {
			m.log.WithField("session_id", sessionID).Warn("session timed out")
		},
		OnError: func(sessionID string, err error) {
			m.log.WithField("session_id", sessionID).WithError(err).Warn("session channel ended abnormally")
		},
	})
	if err != nil {
		return nil, err
	}

	if err := sess.Initialize(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		sess.Close()
		return nil, newErr(KindDuplicate, "session %q already exists", id)
	}
	m.sessions[id] = sess
	m.sessionOrder = append(m.sessionOrder, id)
	m.mu.Unlock()

	fields := m.execLogFields(opts)
	fields["session_id"] = id
	m.log.WithFields(fields).Info("session created")
	return sess, nil
}

// checkPolicyFilter adapts checkPolicy to the CommandFilter shape expected
// by Session.
func (m *Manager) checkPolicyFilter(cmd string) bool {
	return m.checkPolicy(cmd) == nil
}

func (m *Manager) removeSession(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	for i, id := range m.sessionOrder {
		if id == sessionID {
			m.sessionOrder = append(m.sessionOrder[:i], m.sessionOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
}

// GetSession looks up a registered session by ID.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// ExecuteInSession runs cmd against an existing session.
func (m *Manager) ExecuteInSession(sessionID, cmd string, timeout time.Duration, raw bool) (CommandResult, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return CommandResult{}, err
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	log := m.log.WithField("session_id", sessionID)
	if m.san.ShouldLogCommand() {
		log = log.WithField("command", m.san.SanitizeCommand(cmd))
	}
	log.Info("executing command in session")

	result, err := sess.ExecuteCommand(cmd, timeout, raw)
	if err == nil {
		log.WithField("stdout", m.san.SanitizeOutput(result.Stdout)).Info("session command finished")
	}
	return result, err
}

// GetSessionOutput returns buffered output for a background session.
func (m *Manager) GetSessionOutput(sessionID string, lines int, clear bool) ([]string, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.GetBufferedOutput(lines, clear)
}

// ListSessions returns a snapshot of every registered session, ordered by
// insertion (the order sessions were created in).
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionInfo, 0, len(m.sessionOrder))
	for _, id := range m.sessionOrder {
		sess, ok := m.sessions[id]
		if !ok {
			continue
		}
		out = append(out, sess.Info())
	}
	return out
}

// CloseSession closes and deregisters a session.
func (m *Manager) CloseSession(sessionID string) error {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	sess.Close()
	m.removeSession(sessionID)
	return nil
}

// CloseAll closes every registered session, then the underlying transport
// pool. Used by cmd/server on SIGINT/SIGTERM.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.sessionOrder = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.Close()
		}(sess)
	}
	wg.Wait()

	m.pool.DisconnectAll()
}

// ConnectionCount reports how many transport entries the underlying pool
// holds (see Pool.Count), for diagnostics/health tooling.
func (m *Manager) ConnectionCount() int {
	return m.pool.Count()
}
