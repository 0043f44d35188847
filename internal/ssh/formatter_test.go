package ssh

import (
	"strings"
	"testing"
)

func TestFormatterFor(t *testing.T) {
	t.Run("known kinds return distinct formatters", func(t *testing.T) {
		cases := []struct {
			kind ShellKind
			want Formatter
		}{
			{ShellBash, bashFormatter{}},
			{ShellSh, shFormatter{}},
			{ShellPowerShell, powershellFormatter{}},
			{ShellCmd, cmdFormatter{}},
		}
		for _, c := range cases {
			got := FormatterFor(c.kind)
			if got != c.want {
				t.Errorf("FormatterFor(%v) = %#v, want %#v", c.kind, got, c.want)
			}
		}
	})

	t.Run("unknown kind defaults to bash", func(t *testing.T) {
		got := FormatterFor(ShellKind("fish"))
		if _, ok := got.(bashFormatter); !ok {
			t.Errorf("expected bashFormatter default, got %#v", got)
		}
	})
}

func TestBashFormatterWrap(t *testing.T) {
	f := bashFormatter{}

	t.Run("wraps with start, command, end and exit code", func(t *testing.T) {
		out, err := f.Wrap("ls -la", "START123", "END123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "START123") || !strings.Contains(out, "END123") {
			t.Errorf("expected both markers in output, got: %s", out)
		}
		if !strings.Contains(out, "ls -la") {
			t.Errorf("expected command embedded in output, got: %s", out)
		}
		if !strings.Contains(out, "$?") {
			t.Errorf("expected exit-code expression, got: %s", out)
		}
	})

	t.Run("rejects empty command", func(t *testing.T) {
		if _, err := f.Wrap("", "s", "e"); err == nil {
			t.Error("expected error for empty command")
		}
	})

	t.Run("rejects empty markers", func(t *testing.T) {
		if _, err := f.Wrap("ls", "", "e"); err == nil {
			t.Error("expected error for empty start marker")
		}
		if _, err := f.Wrap("ls", "s", ""); err == nil {
			t.Error("expected error for empty end marker")
		}
	})
}

func TestExtractExitCode(t *testing.T) {
	f := bashFormatter{}

	t.Run("extracts code following end marker", func(t *testing.T) {
		output := "some output\nEND_marker:0\n"
		code, found := f.ExtractExitCode(output, "END_marker")
		if !found || code != 0 {
			t.Errorf("got (%d, %v), want (0, true)", code, found)
		}
	})

	t.Run("extracts non-zero code", func(t *testing.T) {
		output := "err\nEND_marker:127\n"
		code, found := f.ExtractExitCode(output, "END_marker")
		if !found || code != 127 {
			t.Errorf("got (%d, %v), want (127, true)", code, found)
		}
	})

	t.Run("returns false when marker absent", func(t *testing.T) {
		_, found := f.ExtractExitCode("no marker here", "END_marker")
		if found {
			t.Error("expected found=false when marker is absent")
		}
	})

	t.Run("returns false when marker present but code missing", func(t *testing.T) {
		_, found := f.ExtractExitCode("END_marker:", "END_marker")
		if found {
			t.Error("expected found=false when no digits follow the marker")
		}
	})

	t.Run("uses the last occurrence of the marker", func(t *testing.T) {
		output := "END_marker:999 leftover from echo\nEND_marker:7"
		code, found := f.ExtractExitCode(output, "END_marker")
		if !found || code != 7 {
			t.Errorf("got (%d, %v), want (7, true)", code, found)
		}
	})
}

func TestKeepAliveStrings(t *testing.T) {
	cases := []struct {
		name string
		f    Formatter
	}{
		{"bash", bashFormatter{}},
		{"sh", shFormatter{}},
		{"powershell", powershellFormatter{}},
		{"cmd", cmdFormatter{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.f.KeepAlive() == "" {
				t.Error("expected non-empty keep-alive string")
			}
		})
	}
}

func TestPowershellAndCmdWrap(t *testing.T) {
	t.Run("powershell uses LASTEXITCODE", func(t *testing.T) {
		out, err := powershellFormatter{}.Wrap("Get-Process", "S", "E")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "$LASTEXITCODE") {
			t.Errorf("expected LASTEXITCODE expression, got: %s", out)
		}
	})

	t.Run("cmd uses ERRORLEVEL", func(t *testing.T) {
		out, err := cmdFormatter{}.Wrap("dir", "S", "E")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "%ERRORLEVEL%") {
			t.Errorf("expected ERRORLEVEL expression, got: %s", out)
		}
	})
}

func TestIndexLast(t *testing.T) {
	t.Run("finds rightmost occurrence", func(t *testing.T) {
		if got := indexLast("abcXYZabcXYZ", "abc"); got != 6 {
			t.Errorf("indexLast = %d, want 6", got)
		}
	})

	t.Run("returns -1 when absent", func(t *testing.T) {
		if got := indexLast("abcdef", "zzz"); got != -1 {
			t.Errorf("indexLast = %d, want -1", got)
		}
	})
}
