package ssh

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestManager(t *testing.T, policy Policy) *Manager {
	t.Helper()
	pool := NewPool(DefaultPoolConfig())
	mgr, err := NewManager(pool, policy, DefaultLoggingConfig())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

// stubSession builds a Session without dialing anything, for exercising the
// Manager's registry operations in isolation.
func stubSession(id string) *Session {
	return &Session{
		id:        id,
		host:      "stub-host",
		username:  "stub-user",
		port:      22,
		typ:       TypeInteractive,
		mode:      ModeNormal,
		shellKind: ShellBash,
		formatter: FormatterFor(ShellBash),
		cfg:       DefaultSessionConfig(),
		isActive:  true,
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
}

func TestNewManagerCompilesPolicyPatterns(t *testing.T) {
	t.Run("rejects malformed allow pattern", func(t *testing.T) {
		pool := NewPool(DefaultPoolConfig())
		policy := DefaultPolicy()
		policy.AllowedCommands = []string{"("}
		if _, err := NewManager(pool, policy, DefaultLoggingConfig()); err == nil {
			t.Error("expected error for malformed regex")
		}
	})

	t.Run("rejects malformed block pattern", func(t *testing.T) {
		pool := NewPool(DefaultPoolConfig())
		policy := DefaultPolicy()
		policy.BlockedCommands = []string{"["}
		if _, err := NewManager(pool, policy, DefaultLoggingConfig()); err == nil {
			t.Error("expected error for malformed regex")
		}
	})
}

func TestCheckPolicy(t *testing.T) {
	t.Run("permissive policy allows anything", func(t *testing.T) {
		mgr := newTestManager(t, DefaultPolicy())
		if err := mgr.checkPolicy("rm -rf /"); err != nil {
			t.Errorf("unexpected denial: %v", err)
		}
	})

	t.Run("allow list requires a match", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.AllowedCommands = []string{`^ls\b`, `^cat\b`}
		mgr := newTestManager(t, policy)

		if err := mgr.checkPolicy("ls -la"); err != nil {
			t.Errorf("expected ls to be allowed, got: %v", err)
		}
		if err := mgr.checkPolicy("rm -rf /"); err == nil {
			t.Error("expected rm to be denied by the allow list")
		}
	})

	t.Run("allow list wins even if also block-listed", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.AllowedCommands = []string{`^ls\b`}
		policy.BlockedCommands = []string{`^ls\b`}
		mgr := newTestManager(t, policy)

		if err := mgr.checkPolicy("ls -la"); err != nil {
			t.Errorf("expected allow list to take precedence over block list: %v", err)
		}
		if err := mgr.checkPolicy("rm -rf /"); err == nil {
			t.Error("expected denial for a command outside the allow list")
		}
	})

	t.Run("block list applies when allow list is empty", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.BlockedCommands = []string{`rm\s+-rf`}
		mgr := newTestManager(t, policy)

		if err := mgr.checkPolicy("rm -rf /"); err == nil {
			t.Error("expected block list to deny")
		}
		if err := mgr.checkPolicy("ls"); err != nil {
			t.Errorf("unexpected denial: %v", err)
		}
	})
}

func TestExecuteCommandRejectsPolicyDeniedBeforeDialing(t *testing.T) {
	policy := DefaultPolicy()
	policy.BlockedCommands = []string{`rm\s+-rf`}
	mgr := newTestManager(t, policy)

	_, err := mgr.ExecuteCommand(context.Background(), ExecuteOptions{
		Host: "unreachable.invalid", Username: "u", KeyPath: "/k", Port: 22,
	}, "rm -rf /", 0)

	if KindOf(err) != KindPolicyDenied {
		t.Errorf("KindOf(err) = %v, want %v (should fail policy before attempting to dial)", KindOf(err), KindPolicyDenied)
	}
}

func TestSessionRegistry(t *testing.T) {
	mgr := newTestManager(t, DefaultPolicy())

	sess := stubSession("sess-1")
	mgr.mu.Lock()
	mgr.sessions[sess.id] = sess
	mgr.sessionOrder = append(mgr.sessionOrder, sess.id)
	mgr.mu.Unlock()

	t.Run("GetSession finds a registered session", func(t *testing.T) {
		got, err := mgr.GetSession("sess-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != sess {
			t.Error("expected the registered session back")
		}
	})

	t.Run("GetSession reports NotFound for an unknown ID", func(t *testing.T) {
		_, err := mgr.GetSession("nope")
		if KindOf(err) != KindNotFound {
			t.Errorf("KindOf(err) = %v, want %v", KindOf(err), KindNotFound)
		}
	})

	t.Run("ListSessions includes the registered session", func(t *testing.T) {
		infos := mgr.ListSessions()
		if len(infos) != 1 || infos[0].SessionID != "sess-1" {
			t.Errorf("ListSessions() = %+v, want one entry for sess-1", infos)
		}
	})

	t.Run("CloseSession deregisters it", func(t *testing.T) {
		if err := mgr.CloseSession("sess-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := mgr.GetSession("sess-1"); KindOf(err) != KindNotFound {
			t.Error("expected session to be gone after CloseSession")
		}
	})
}

func TestCreateSessionEnforcesMaxSessions(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxSessions = 1
	mgr := newTestManager(t, policy)

	mgr.mu.Lock()
	mgr.sessions["existing"] = stubSession("existing")
	mgr.sessionOrder = append(mgr.sessionOrder, "existing")
	mgr.mu.Unlock()

	_, err := mgr.CreateSession(context.Background(), "new", ExecuteOptions{
		Host: "unreachable.invalid", Username: "u", KeyPath: "/k", Port: 22,
	}, TypeInteractive, ModeNormal, ShellBash)

	if KindOf(err) != KindLimitExceeded {
		t.Errorf("KindOf(err) = %v, want %v", KindOf(err), KindLimitExceeded)
	}
}

func TestCreateSessionRejectsDuplicateID(t *testing.T) {
	mgr := newTestManager(t, DefaultPolicy())

	mgr.mu.Lock()
	mgr.sessions["dup"] = stubSession("dup")
	mgr.sessionOrder = append(mgr.sessionOrder, "dup")
	mgr.mu.Unlock()

	_, err := mgr.CreateSession(context.Background(), "dup", ExecuteOptions{
		Host: "unreachable.invalid", Username: "u", KeyPath: "/k", Port: 22,
	}, TypeInteractive, ModeNormal, ShellBash)

	if KindOf(err) != KindDuplicate {
		t.Errorf("KindOf(err) = %v, want %v", KindOf(err), KindDuplicate)
	}
}

func TestListSessionsPreservesInsertionOrder(t *testing.T) {
	mgr := newTestManager(t, DefaultPolicy())

	ids := []string{"c", "a", "b"}
	mgr.mu.Lock()
	for _, id := range ids {
		mgr.sessions[id] = stubSession(id)
		mgr.sessionOrder = append(mgr.sessionOrder, id)
	}
	mgr.mu.Unlock()

	infos := mgr.ListSessions()
	if len(infos) != len(ids) {
		t.Fatalf("len(infos) = %d, want %d", len(infos), len(ids))
	}
	for i, id := range ids {
		if infos[i].SessionID != id {
			t.Errorf("infos[%d].SessionID = %q, want %q (insertion order)", i, infos[i].SessionID, id)
		}
	}
}

func TestCloseAllClearsRegistryAndPool(t *testing.T) {
	mgr := newTestManager(t, DefaultPolicy())
	mgr.mu.Lock()
	mgr.sessions["a"] = stubSession("a")
	mgr.mu.Unlock()

	mgr.CloseAll()

	if len(mgr.ListSessions()) != 0 {
		t.Error("expected empty registry after CloseAll")
	}
	if mgr.ConnectionCount() != 0 {
		t.Error("expected empty pool after CloseAll")
	}
}
