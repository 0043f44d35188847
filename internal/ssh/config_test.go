package ssh

import "testing"

func TestPoolConfigValidate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		if err := DefaultPoolConfig().Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects non-positive cap", func(t *testing.T) {
		cfg := DefaultPoolConfig()
		cfg.MaxConnectionsPerHost = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero cap")
		}
	})

	t.Run("rejects timeout over the bound", func(t *testing.T) {
		cfg := DefaultPoolConfig()
		cfg.ReadyTimeout = MaxTimeoutBound + 1
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for out-of-bound timeout")
		}
	})
}

func TestPolicyValidate(t *testing.T) {
	t.Run("default policy is valid", func(t *testing.T) {
		if err := DefaultPolicy().Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects maxSessions out of [1, 100]", func(t *testing.T) {
		cases := []int{0, -1, 101}
		for _, n := range cases {
			p := DefaultPolicy()
			p.MaxSessions = n
			if err := p.Validate(); err == nil {
				t.Errorf("expected error for maxSessions=%d", n)
			}
		}
	})
}

func TestSessionConfigValidate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		if err := DefaultSessionConfig().Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects bufferTrimTo greater than bufferMaxSize", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		cfg.BufferTrimTo = cfg.BufferMaxSize + 1
		if err := cfg.Validate(); err == nil {
			t.Error("expected error when trimTo exceeds maxSize")
		}
	})

	t.Run("rejects non-positive buffer size", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		cfg.BufferMaxSize = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero buffer size")
		}
	})

	t.Run("rejects buffer size over the documented ceiling", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		cfg.BufferMaxSize = MaxBufferBound + 1
		cfg.BufferTrimTo = MaxBufferBound + 1
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for buffer size over ceiling")
		}
	})
}
