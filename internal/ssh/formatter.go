package ssh

import (
	"fmt"
	"regexp"
)

// exitCodePattern matches "<anything>:<digits>" for exit-code extraction.
// The caller supplies the end marker; this just captures the trailing code.
var exitCodePattern = regexp.MustCompile(`:(\d+)`)

// Formatter wraps a user command with per-shell prologue/epilogue so its
// stdout and exit code can be recovered from an unstructured text stream,
// and produces the shell-level no-op used to keep a channel alive while
// idle. One Formatter exists per ShellKind (bashFormatter, shFormatter,
// powershellFormatter, cmdFormatter); NewSession selects by configured
// ShellKind via FormatterFor.
//
// Generalizes a single-delimiter wrap-for-recovery trick to start+end
// markers, per shell, with exit-code recovery.
type Formatter interface {
	// Wrap returns the command text to write to the shell channel: it must
	// emit start verbatim, run cmd, then emit end concatenated with the
	// shell's exit-status expression.
	Wrap(cmd, start, end string) (string, error)
	// KeepAlive returns a no-op line for this shell, safe to emit while idle.
	KeepAlive() string
	// ExtractExitCode applies the `<end>:(\d+)` pattern to accumulated
	// output and returns the parsed code, or (0, false) if absent.
	ExtractExitCode(output, end string) (int, bool)
}

// FormatterFor returns the Formatter for kind, defaulting to bash for an
// unrecognized kind (mirrors the Session Manager's own ShellKind default).
func FormatterFor(kind ShellKind) Formatter {
	switch kind {
	case ShellSh:
		return shFormatter{}
	case ShellPowerShell:
		return powershellFormatter{}
	case ShellCmd:
		return cmdFormatter{}
	default:
		return bashFormatter{}
	}
}

func validateWrapArgs(cmd, start, end string) error {
	if start == "" || end == "" {
		return newErr(KindInvalidArgument, "marker must not be empty")
	}
	if cmd == "" {
		return newErr(KindInvalidArgument, "command must not be empty")
	}
	return nil
}

// extractExitCode is shared by every Formatter: find end in output, then
// the first `:(\d+)` immediately following it.
func extractExitCode(output, end string) (int, bool) {
	idx := indexLast(output, end)
	if idx < 0 {
		return 0, false
	}
	tail := output[idx+len(end):]
	loc := exitCodePattern.FindStringSubmatchIndex(tail)
	if loc == nil || loc[0] != 0 {
		return 0, false
	}
	var code int
	if _, err := fmt.Sscanf(tail[loc[2]:loc[3]], "%d", &code); err != nil {
		return 0, false
	}
	return code, true
}

func indexLast(s, substr string) int {
	last := -1
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			last = i
		}
	}
	return last
}

// --- bash / sh ---

type bashFormatter struct{}

func (bashFormatter) Wrap(cmd, start, end string) (string, error) {
	if err := validateWrapArgs(cmd, start, end); err != nil {
		return "", err
	}
	return fmt.Sprintf(`echo "%s"; %s; echo "%s:$?"`, start, cmd, end), nil
}

func (bashFormatter) KeepAlive() string { return "\n" }

func (bashFormatter) ExtractExitCode(output, end string) (int, bool) {
	return extractExitCode(output, end)
}

type shFormatter struct{ bashFormatter }

// --- powershell ---

type powershellFormatter struct{}

func (powershellFormatter) Wrap(cmd, start, end string) (string, error) {
	if err := validateWrapArgs(cmd, start, end); err != nil {
		return "", err
	}
	return fmt.Sprintf(`Write-Output "%s"; %s; Write-Output "%s:$LASTEXITCODE"`, start, cmd, end), nil
}

func (powershellFormatter) KeepAlive() string { return "Write-Output \"\"\n" }

func (powershellFormatter) ExtractExitCode(output, end string) (int, bool) {
	return extractExitCode(output, end)
}

// --- cmd ---

type cmdFormatter struct{}

func (cmdFormatter) Wrap(cmd, start, end string) (string, error) {
	if err := validateWrapArgs(cmd, start, end); err != nil {
		return "", err
	}
	// The redirected echo forces evaluation of ERRORLEVEL before the
	// terminating marker line is emitted.
	return fmt.Sprintf(`echo %s & %s & echo %%ERRORLEVEL%% > NUL & echo %s:%%ERRORLEVEL%%`, start, cmd, end), nil
}

func (cmdFormatter) KeepAlive() string { return "echo.\n" }

func (cmdFormatter) ExtractExitCode(output, end string) (int, bool) {
	return extractExitCode(output, end)
}
