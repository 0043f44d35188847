package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateContentJSON(t *testing.T) {
	t.Run("accepts well-formed JSON", func(t *testing.T) {
		r := CheckSyntax(`{"a": 1}`, "json")
		if !r.Valid {
			t.Errorf("expected valid, got errors: %v", r.Issues)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		r := CheckSyntax(`{"a": }`, "json")
		if r.Valid {
			t.Error("expected invalid")
		}
	})
}

func TestValidateContentYAML(t *testing.T) {
	t.Run("accepts multi-document YAML", func(t *testing.T) {
		r := CheckSyntax("a: 1\n---\nb: 2\n", "yaml")
		if !r.Valid {
			t.Errorf("expected valid, got errors: %v", r.Issues)
		}
	})

	t.Run("rejects malformed YAML", func(t *testing.T) {
		r := CheckSyntax("a: [1, 2\n", "yaml")
		if r.Valid {
			t.Error("expected invalid")
		}
	})
}

func TestValidateContentDockerfile(t *testing.T) {
	t.Run("accepts a minimal valid Dockerfile", func(t *testing.T) {
		r := CheckSyntax("FROM alpine\nRUN echo hi\n", "dockerfile")
		if !r.Valid {
			t.Errorf("expected valid, got errors: %v", r.Issues)
		}
	})

	t.Run("flags an unknown instruction", func(t *testing.T) {
		r := CheckSyntax("FROM alpine\nBOGUS hi\n", "dockerfile")
		if r.Valid {
			t.Error("expected invalid due to unknown instruction")
		}
	})

	t.Run("flags a missing FROM", func(t *testing.T) {
		r := CheckSyntax("RUN echo hi\n", "dockerfile")
		if r.Valid {
			t.Error("expected invalid due to missing FROM")
		}
	})
}

func TestValidateContentUnknownType(t *testing.T) {
	if got := CheckSyntax("anything", "unknown-type"); got != nil {
		t.Errorf("expected nil for unrecognized type, got %+v", got)
	}
}

func TestValidateContentINI(t *testing.T) {
	t.Run("accepts sections and key=value pairs", func(t *testing.T) {
		r := CheckSyntax("[server]\nhost = 127.0.0.1\nport: 22\n; comment\n", "ini")
		require.NotNil(t, r)
		assert.True(t, r.Valid, "issues: %v", r.Issues)
	})

	t.Run("flags an unclosed section header", func(t *testing.T) {
		r := CheckSyntax("[server\nhost = 127.0.0.1\n", "ini")
		require.NotNil(t, r)
		assert.False(t, r.Valid)
		require.Len(t, r.Issues, 1)
		assert.Equal(t, 1, r.Issues[0].Line)
	})
}

func TestValidateContentENV(t *testing.T) {
	t.Run("accepts KEY=VALUE with export prefix", func(t *testing.T) {
		r := CheckSyntax("# comment\nexport FOO=bar\nBAZ=1\n", "env")
		require.NotNil(t, r)
		assert.True(t, r.Valid, "issues: %v", r.Issues)
	})

	t.Run("flags a key that doesn't start with a letter or underscore", func(t *testing.T) {
		r := CheckSyntax("1FOO=bar\n", "env")
		require.NotNil(t, r)
		assert.False(t, r.Valid)
		require.GreaterOrEqual(t, len(r.Issues), 1)
	})
}

func TestDetectFileType(t *testing.T) {
	cases := []struct{ path, want string }{
		{"/etc/app/config.json", "json"},
		{"values.yaml", "yaml"},
		{"Settings.TOML", "toml"},
		{"/var/www/index.xhtml", "xml"},
		{"/etc/nginx/nginx.conf", "ini"},
		{".env.production", "env"},
		{"Dockerfile", "dockerfile"},
		{"dockerfile.prod", "dockerfile"},
		{"README.md", ""},
	}
	for _, c := range cases {
		if got := detectFileType(c.path); got != c.want {
			t.Errorf("detectFileType(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestShellQuote(t *testing.T) {
	t.Run("quotes embedded single quotes", func(t *testing.T) {
		got := shellQuote("it's a test")
		want := `'it'"'"'s a test'`
		if got != want {
			t.Errorf("shellQuote() = %q, want %q", got, want)
		}
	})

	t.Run("empty string becomes empty quotes", func(t *testing.T) {
		if got := shellQuote(""); got != "''" {
			t.Errorf("shellQuote(\"\") = %q, want ''", got)
		}
	})
}

func TestSedEscapeInsertText(t *testing.T) {
	got := sedEscapeInsertText("line one\nline two")
	want := "line one\\\nline two"
	if got != want {
		t.Errorf("sedEscapeInsertText() = %q, want %q", got, want)
	}
}
