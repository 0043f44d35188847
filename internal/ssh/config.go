package ssh

import "time"

// Defaults for timeouts and buffer sizes. All are configurable within the
// documented bounds (timeouts <= 1h, buffers <= 100_000).
const (
	DefaultCommandTimeout    = 30 * time.Second
	DefaultSessionTimeout    = 600 * time.Second
	DefaultConnectionTimeout = 30 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultForceClose        = 3 * time.Second
	DefaultSessionClose      = 5 * time.Second

	DefaultBufferMaxSize = 10_000
	DefaultBufferTrimTo  = 5_000

	// MaxTimeoutBound and MaxBufferBound are the documented ceilings: any
	// configured timeout over an hour, or buffer over 100k entries, is
	// rejected by the config Validate methods. NewSession and NewManager run
	// them on their configs; NewPool does not validate its PoolConfig.
	MaxTimeoutBound = time.Hour
	MaxBufferBound  = 100_000

	startupSettleDelay = 300 * time.Millisecond
	minDelimiterTail   = 9
)

// ShellKind enumerates the remote shells the Formatter understands.
type ShellKind string

const (
	ShellBash       ShellKind = "bash"
	ShellSh         ShellKind = "sh"
	ShellPowerShell ShellKind = "powershell"
	ShellCmd        ShellKind = "cmd"
)

// SessionType distinguishes interactive (caller suspends for each command)
// from background (fire-and-forget, buffer-only) sessions.
type SessionType string

const (
	TypeInteractive SessionType = "interactive"
	TypeBackground  SessionType = "background"
)

// SessionMode distinguishes framed ("normal") command execution from raw,
// unframed byte-pipe mode.
type SessionMode string

const (
	ModeNormal SessionMode = "normal"
	ModeRaw    SessionMode = "raw"
)

// PoolConfig configures a Pool's behavior. Loading these values from a file
// or environment is an external collaborator's job; the core only defines
// the shape and validates it.
type PoolConfig struct {
	// MaxConnectionsPerHost caps total live transport entries in the pool.
	// Despite the name, the cap is pool-wide, keyed by the full
	// (user, host, port) tuple, not per-host.
	MaxConnectionsPerHost int
	ReadyTimeout          time.Duration
	KeepaliveInterval     time.Duration
	KeepaliveCountMax     int
}

// DefaultPoolConfig returns conservative default pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnectionsPerHost: 10,
		ReadyTimeout:          DefaultConnectionTimeout,
		KeepaliveInterval:     DefaultKeepAliveInterval,
		KeepaliveCountMax:     3,
	}
}

// Validate checks PoolConfig against the documented bounds.
func (c PoolConfig) Validate() error {
	if c.MaxConnectionsPerHost <= 0 {
		return newErr(KindInvalidArgument, "maxConnectionsPerHost must be positive")
	}
	if c.ReadyTimeout <= 0 || c.ReadyTimeout > MaxTimeoutBound {
		return newErr(KindInvalidArgument, "readyTimeout out of bounds")
	}
	return nil
}

// Policy holds command allow/block filtering and session caps, applied by
// the Manager before dispatch. MaxConnectionsPerHost is not read by the
// Manager; the connection cap in force is the Pool's
// PoolConfig.MaxConnectionsPerHost.
type Policy struct {
	AllowedCommands       []string // regex source strings
	BlockedCommands       []string
	MaxSessions           int
	SessionTimeout        time.Duration
	MaxConnectionsPerHost int
}

// DefaultPolicy returns a permissive policy (no allow/block lists) with
// conservative default caps.
func DefaultPolicy() Policy {
	return Policy{
		MaxSessions:           100,
		SessionTimeout:        DefaultSessionTimeout,
		MaxConnectionsPerHost: 10,
	}
}

// Validate checks Policy against the documented bounds (maxSessions 1..100).
func (p Policy) Validate() error {
	if p.MaxSessions < 1 || p.MaxSessions > 100 {
		return newErr(KindInvalidArgument, "maxSessions must be in [1, 100]")
	}
	if p.SessionTimeout <= 0 || p.SessionTimeout > MaxTimeoutBound {
		return newErr(KindInvalidArgument, "sessionTimeout out of bounds")
	}
	return nil
}

// LoggingConfig controls how much of a command's content reaches the event
// sink; enforced by the Sanitizer (sanitize.go), not by the Session/Manager
// themselves.
type LoggingConfig struct {
	IncludeCommands     bool
	IncludeResponses    bool
	MaxResponseLength   int
	ExtraRedactPatterns []string
}

// DefaultLoggingConfig returns conservative defaults: commands logged,
// responses omitted.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		IncludeCommands:   true,
		IncludeResponses:  false,
		MaxResponseLength: 4096,
	}
}

// SessionConfig configures a single Persistent Session.
type SessionConfig struct {
	CommandTimeout time.Duration
	SessionTimeout time.Duration
	BufferMaxSize  int
	BufferTrimTo   int
}

// DefaultSessionConfig returns conservative default session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		CommandTimeout: DefaultCommandTimeout,
		SessionTimeout: DefaultSessionTimeout,
		BufferMaxSize:  DefaultBufferMaxSize,
		BufferTrimTo:   DefaultBufferTrimTo,
	}
}

// Validate checks SessionConfig against the documented bounds.
func (c SessionConfig) Validate() error {
	if c.CommandTimeout <= 0 || c.CommandTimeout > MaxTimeoutBound {
		return newErr(KindInvalidArgument, "commandTimeout out of bounds")
	}
	if c.SessionTimeout <= 0 || c.SessionTimeout > MaxTimeoutBound {
		return newErr(KindInvalidArgument, "sessionTimeout out of bounds")
	}
	if c.BufferMaxSize <= 0 || c.BufferMaxSize > MaxBufferBound {
		return newErr(KindInvalidArgument, "bufferMaxSize out of bounds")
	}
	if c.BufferTrimTo <= 0 || c.BufferTrimTo > c.BufferMaxSize {
		return newErr(KindInvalidArgument, "bufferTrimTo must be in (0, bufferMaxSize]")
	}
	return nil
}
