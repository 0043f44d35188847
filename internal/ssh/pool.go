package ssh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// connKey identifies a reusable SSH transport.
type connKey struct {
	user string
	host string
	port int
}

func (k connKey) String() string {
	return fmt.Sprintf("%s@%s:%d", k.user, k.host, k.port)
}

// transportEntry is a pooled connection handle: the underlying SSH client,
// a liveness flag, and a monotonically updated liveness timestamp.
// Owned exclusively by the Pool; never handed to callers directly — only
// channels derived from conn are (via NewSession/shell/exec in session.go
// and manager.go).
type transportEntry struct {
	conn      *ssh.Client
	connected atomic.Bool
	touchedAt atomic.Int64 // unix nanos, updated on every successful use
}

func newTransportEntry(conn *ssh.Client) *transportEntry {
	e := &transportEntry{conn: conn}
	e.connected.Store(true)
	e.touch()
	return e
}

func (e *transportEntry) touch()            { e.touchedAt.Store(time.Now().UnixNano()) }
func (e *transportEntry) isConnected() bool { return e.connected.Load() }
func (e *transportEntry) markDisconnected() { e.connected.Store(false) }

// Pool hands out ready SSH transports keyed by (user, host, port), reusing a
// live transport and otherwise opening a new one subject to a per-pool cap.
// Entry bookkeeping uses atomics rather than a lock per touch, since
// liveness checks happen far more often than connects or disconnects.
type Pool struct {
	cfg PoolConfig
	log *logrus.Entry

	mu      sync.Mutex
	entries map[connKey]*transportEntry
	// inflight coalesces concurrent acquire() calls for the same key so
	// only one handshake happens.
	inflight map[connKey]*sync.WaitGroup
}

// NewPool creates a Pool with the given configuration.
func NewPool(cfg PoolConfig) *Pool {
	return &Pool{
		cfg:      cfg,
		log:      logrus.WithField("component", "pool"),
		entries:  make(map[connKey]*transportEntry),
		inflight: make(map[connKey]*sync.WaitGroup),
	}
}

// AcquireOptions are the validated inputs to Acquire.
type AcquireOptions struct {
	Host    string
	User    string
	KeyPath string
	Port    int
}

func (o AcquireOptions) validate() error {
	if o.Host == "" || o.User == "" || o.KeyPath == "" {
		return newErr(KindInvalidArgument, "host, user, and keyPath are required")
	}
	if o.Port < 1 || o.Port > 65535 {
		return newErr(KindInvalidArgument, "port must be in [1, 65535], got %d", o.Port)
	}
	return nil
}

// Acquire returns a ready *ssh.Client for (user, host, port), reusing a live
// transport when one exists, evicting a dead one, and otherwise dialing a
// new one subject to the pool's per-pool cap.
func (p *Pool) Acquire(ctx context.Context, opts AcquireOptions) (*ssh.Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	key := connKey{user: opts.User, host: opts.Host, port: opts.Port}

	for {
		p.mu.Lock()
		if entry, ok := p.entries[key]; ok {
			if entry.isConnected() {
				entry.touch()
				p.mu.Unlock()
				return entry.conn, nil
			}
			// Dead entry: evict before possibly creating a new one.
			delete(p.entries, key)
		}

		if wg, inProgress := p.inflight[key]; inProgress {
			// Someone else is dialing this exact key; wait for them instead
			// of racing into a second handshake.
			p.mu.Unlock()
			wg.Wait()
			continue
		}

		if len(p.entries) >= p.cfg.MaxConnectionsPerHost {
			p.mu.Unlock()
			return nil, newErr(KindLimitExceeded, "pool at capacity (%d)", p.cfg.MaxConnectionsPerHost)
		}

		wg := &sync.WaitGroup{}
		wg.Add(1)
		p.inflight[key] = wg
		p.mu.Unlock()

		conn, err := p.dial(ctx, opts)

		p.mu.Lock()
		delete(p.inflight, key)
		if err == nil {
			entry := newTransportEntry(conn)
			p.entries[key] = entry
			p.watch(key, entry)
		}
		p.mu.Unlock()
		wg.Done()

		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// dial reads the private key and performs the SSH handshake, bounded by
// ReadyTimeout.
func (p *Pool) dial(ctx context.Context, opts AcquireOptions) (*ssh.Client, error) {
	signer, err := loadSigner(opts.KeyPath)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.ReadyTimeout,
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	type result struct {
		conn *ssh.Client
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ssh.Dial("tcp", addr, clientCfg)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, wrapErr(KindConnectionTimeout, ctx.Err(), "acquire %s@%s", opts.User, opts.Host)
	case <-time.After(p.cfg.ReadyTimeout):
		return nil, newErr(KindConnectionTimeout, "handshake with %s@%s exceeded %v", opts.User, opts.Host, p.cfg.ReadyTimeout)
	case res := <-ch:
		if res.err != nil {
			return nil, wrapErr(KindConnectionFailed, res.err, "handshake with %s@%s", opts.User, opts.Host)
		}
		return res.conn, nil
	}
}

// watch marks entry disconnected the moment its underlying transport closes
// (keepalive death, peer close, or our own tear-down), and drives the
// client-level keepalive implied by KeepaliveInterval/KeepaliveCountMax.
func (p *Pool) watch(key connKey, entry *transportEntry) {
	go func() {
		missed := 0
		ticker := time.NewTicker(p.cfg.KeepaliveInterval)
		defer ticker.Stop()
		for range ticker.C {
			if !entry.isConnected() {
				return
			}
			_, _, err := entry.conn.SendRequest("keepalive@ssh-mcp", true, nil)
			if err != nil {
				missed++
				if missed >= p.cfg.KeepaliveCountMax {
					entry.markDisconnected()
					p.log.WithField("target", key.String()).Warn("transport keepalive failed, marking disconnected")
					return
				}
				continue
			}
			missed = 0
			entry.touch()
		}
	}()
	go func() {
		// entry.conn.Wait blocks until the transport is closed by either
		// side; on return, mark disconnected so the next Acquire evicts it.
		_ = entry.conn.Wait()
		entry.markDisconnected()
		p.log.WithField("target", key.String()).Info("transport closed")
	}()
}

// DisconnectAll initiates close on every live transport, bounded by
// DefaultForceClose per entry, and clears the registry unconditionally.
func (p *Pool) DisconnectAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[connKey]*transportEntry)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for key, entry := range entries {
		wg.Add(1)
		go func(key connKey, entry *transportEntry) {
			defer wg.Done()
			done := make(chan struct{})
			go func() {
				entry.conn.Close()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(DefaultForceClose):
				p.log.WithField("target", key.String()).Warn("force-close timed out")
			}
		}(key, entry)
	}
	wg.Wait()
}

// Count returns the current number of entries. An entry marked disconnected
// stays counted until the next Acquire for its key evicts it.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
