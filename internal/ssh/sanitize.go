package ssh

import (
	"path/filepath"
	"regexp"
)

// redacted is the fixed replacement text for any matched secret.
const redacted = "[REDACTED]"

// secretFlagPattern matches common credential-bearing CLI flags so their
// value (not the flag itself) gets redacted from logged commands: --password
// foo, --password=foo, --token foo, and the passwd/pass/secret/api-key/auth
// variants.
var secretFlagPattern = regexp.MustCompile(
	`(?i)(--?(?:password|passwd|pass|secret|token|api[_-]?key|auth)\b)(=|\s+)(\S+)`,
)

// Sanitizer strips credential material from commands and output before they
// reach a log sink or are echoed back across the MCP boundary.
// Stateless and safe for concurrent use.
type Sanitizer struct {
	extra []*regexp.Regexp
	cfg   LoggingConfig
}

// NewSanitizer compiles cfg.ExtraRedactPatterns in addition to the built-in
// rules. A malformed extra pattern is skipped rather than failing
// construction, since it is operator-supplied config, not caller input.
func NewSanitizer(cfg LoggingConfig) *Sanitizer {
	s := &Sanitizer{cfg: cfg}
	for _, p := range cfg.ExtraRedactPatterns {
		if re, err := regexp.Compile(p); err == nil {
			s.extra = append(s.extra, re)
		}
	}
	return s
}

// SanitizeCommand redacts credential-bearing flag values from a command
// string before it is logged or included in an error message. The command
// actually sent to the shell is never touched — only the logged copy.
func (s *Sanitizer) SanitizeCommand(cmd string) string {
	out := secretFlagPattern.ReplaceAllString(cmd, "$1$2"+redacted)
	for _, re := range s.extra {
		out = re.ReplaceAllString(out, redacted)
	}
	return out
}

// SanitizeKeyPath reduces a private key path to its basename, so a logged
// AcquireOptions never reveals the key's filesystem location.
func (s *Sanitizer) SanitizeKeyPath(path string) string {
	if path == "" {
		return path
	}
	return filepath.Base(path)
}

// SanitizeOutput applies the extra redaction patterns to command output and,
// if LoggingConfig.IncludeResponses is false, replaces it outright. When
// included but over MaxResponseLength, it is truncated with a sentinel
//.
func (s *Sanitizer) SanitizeOutput(output string) string {
	if !s.cfg.IncludeResponses {
		return redacted
	}
	for _, re := range s.extra {
		output = re.ReplaceAllString(output, redacted)
	}
	if s.cfg.MaxResponseLength > 0 && len(output) > s.cfg.MaxResponseLength {
		return output[:s.cfg.MaxResponseLength] + "… [truncated]"
	}
	return output
}

// ShouldLogCommand reports whether command text may be included in a log
// entry at all.
func (s *Sanitizer) ShouldLogCommand() bool { return s.cfg.IncludeCommands }
