package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ssh-mcp/internal/ssh"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

// fileOpTimeout bounds the cat/heredoc exec calls read/write/edit issue
// under the hood; file operations are one-shot, not session-bound, so they
// get their own fixed budget rather than a caller-supplied timeout.
const fileOpTimeout = 30 * time.Second

// registerFileTools registers file read/write/edit/validate tools, all
// rebuilt over Manager.ExecuteCommand rather than SFTP (see DESIGN.md: the
// teacher's SFTP-backed read/write/list_dir/sync is dropped because the
// domain's remote-shell-only transport has no SFTP subsystem to exercise;
// read/write survive, rebuilt on cat/heredoc).
func registerFileTools(s *server.MCPServer, mgr *ssh.Manager) {
	s.AddTool(
		mcp.NewTool("read",
			mcp.WithDescription("Read the contents of a remote file"),
			mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
			mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
			mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
			mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
			mcp.WithString("path", mcp.Required(), mcp.Description("File path to read")),
		),
		createReadHandler(mgr),
	)

	s.AddTool(
		mcp.NewTool("write",
			mcp.WithDescription("Write content to a remote file. Validates syntax BEFORE writing for known file types (JSON, YAML, TOML, XML, INI, Dockerfile). Validation is server-side with zero remote dependencies. Set skip_validate=true to bypass."),
			mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
			mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
			mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
			mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
			mcp.WithString("path", mcp.Required(), mcp.Description("File path to write")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Content to write")),
			mcp.WithBoolean("skip_validate", mcp.Description("Skip syntax validation before write (default: false)")),
		),
		createWriteHandler(mgr),
	)

	s.AddTool(
		mcp.NewTool("edit",
			mcp.WithDescription(`Powerful sed-like file editor. Supports multiple operations on any file type (YAML, JSON, conf, etc).

Operations (set via 'operation' parameter):
  replace     — Find and replace text (default). Exact literal match.
  regex       — Regex find and replace (sed-style). Use capture groups \1, \2, etc.
  insert      — Insert text at a specific line number (pushes existing content down).
  append      — Append text after a line matching a pattern, or at end of file if no pattern.
  prepend     — Prepend text before a line matching a pattern, or at start of file if no pattern.
  delete      — Delete lines matching a pattern or a line range.
  replace_line — Replace entire line(s) matching a pattern with new text.
`),
			mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
			mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
			mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
			mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
			mcp.WithString("path", mcp.Required(), mcp.Description("File path to edit")),
			mcp.WithString("operation", mcp.Description("Operation: replace, regex, insert, append, prepend, delete, replace_line (default: replace)")),
			mcp.WithString("old_text", mcp.Description("Text to find (for 'replace' operation)")),
			mcp.WithString("new_text", mcp.Description("Replacement text (for 'replace' operation)")),
			mcp.WithString("pattern", mcp.Description("Regex pattern (for regex/append/prepend/delete/replace_line operations)")),
			mcp.WithString("replacement", mcp.Description("Replacement string with \\1 \\2 backrefs (for 'regex' operation)")),
			mcp.WithString("content", mcp.Description("Content to insert/append/prepend/replace_line")),
			mcp.WithNumber("line", mcp.Description("Line number for 'insert' operation (1-based)")),
			mcp.WithNumber("start_line", mcp.Description("Start line for range delete (1-based, inclusive)")),
			mcp.WithNumber("end_line", mcp.Description("End line for range delete (1-based, inclusive)")),
			mcp.WithBoolean("global", mcp.Description("Replace all occurrences (default: false for replace, true for regex)")),
		),
		createEditHandler(mgr),
	)

	s.AddTool(
		mcp.NewTool("validate",
			mcp.WithDescription(`Validate file syntax server-side (zero remote host dependencies). Auto-detects type from extension.

Supported formats:
  .json                    — JSON syntax
  .yaml, .yml              — YAML syntax (multi-document)
  .toml                    — TOML syntax
  .xml, .svg, .xhtml       — XML well-formedness
  .ini, .cfg, .conf        — INI key=value structure
  .env                     — Dotenv KEY=VALUE format
  Dockerfile               — Instruction validation

All validation runs on the MCP server using Go parsers. No python3, jq, or other tools needed on the remote host.`),
			mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
			mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
			mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
			mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
			mcp.WithString("path", mcp.Required(), mcp.Description("File path to validate")),
			mcp.WithString("type", mcp.Description("Force file type: json, yaml, toml, xml, ini, env, dockerfile (auto-detected from extension if omitted)")),
		),
		createValidateHandler(mgr),
	)
}

// readRemoteFile cats a file back through the one-shot exec path. Binary
// files are not supported — the remote-shell transport has no byte-safe
// framing below the text delimiter layer.
func readRemoteFile(ctx context.Context, mgr *ssh.Manager, opts ssh.ExecuteOptions, path string) (string, error) {
	result, err := mgr.ExecuteCommand(ctx, opts, fmt.Sprintf("cat -- %s", shellQuote(path)), fileOpTimeout)
	if err != nil {
		return "", err
	}
	if code := result.ExitCode; code != nil && *code != 0 {
		return "", fmt.Errorf("read %s: %s", path, strings.TrimSpace(result.Stderr))
	}
	return result.Stdout, nil
}

// writeRemoteFile overwrites path with content via a quoted heredoc, which
// disables shell expansion inside content so arbitrary text round-trips
// safely.
func writeRemoteFile(ctx context.Context, mgr *ssh.Manager, opts ssh.ExecuteOptions, path, content string) error {
	delim := "SSH_MCP_EOF"
	cmd := fmt.Sprintf("cat > %s <<'%s'\n%s\n%s", shellQuote(path), delim, content, delim)
	result, err := mgr.ExecuteCommand(ctx, opts, cmd, fileOpTimeout)
	if err != nil {
		return err
	}
	if code := result.ExitCode; code != nil && *code != 0 {
		return fmt.Errorf("write %s: %s", path, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func createReadHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		content, err := readRemoteFile(ctx, mgr, execOpts(req), path)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("read failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(content), nil
	}
}

func createWriteHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		skipValidate := req.GetBool("skip_validate", false)

		if !skipValidate {
			if fileType := detectFileType(path); fileType != "" {
				if result := CheckSyntax(content, fileType); result != nil && !result.Valid {
					return mcp.NewToolResultError(fmt.Sprintf(
						"Syntax validation failed — file NOT written.\n%s\n\nFix the errors above or set skip_validate=true to force write.",
						result.Render(path))), nil
				}
			}
		}

		if err := writeRemoteFile(ctx, mgr, execOpts(req), path, content); err != nil {
			logrus.WithError(err).WithField("path", path).Warn("write failed")
			return mcp.NewToolResultError(err.Error()), nil
		}

		msg := fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)
		if !skipValidate {
			if fileType := detectFileType(path); fileType != "" {
				msg += fmt.Sprintf("\nSyntax (%s): OK", fileType)
			}
		}
		return mcp.NewToolResultText(msg), nil
	}
}

func createEditHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		operation := req.GetString("operation", "replace")
		opts := execOpts(req)

		var cmd string
		switch operation {
		case "replace":
			oldText := req.GetString("old_text", "")
			newText := req.GetString("new_text", "")
			if oldText == "" {
				return mcp.NewToolResultError("'old_text' is required for replace operation"), nil
			}
			globalFlag := ""
			if req.GetBool("global", false) {
				globalFlag = "g"
			}
			cmd = fmt.Sprintf("sed -i 's/%s/%s/%s' %s 2>&1",
				sedEscapeLiteral(oldText), sedEscapeReplacement(newText), globalFlag, shellQuote(path))

		case "regex":
			pattern := req.GetString("pattern", "")
			replacement := req.GetString("replacement", "")
			if pattern == "" {
				return mcp.NewToolResultError("'pattern' is required for regex operation"), nil
			}
			globalFlag := "g"
			if !req.GetBool("global", true) {
				globalFlag = ""
			}
			cmd = fmt.Sprintf("sed -i -E 's/%s/%s/%s' %s 2>&1",
				sedEscapePattern(pattern), strings.ReplaceAll(replacement, "/", `\/`), globalFlag, shellQuote(path))

		case "insert":
			lineNum := req.GetInt("line", 0)
			content := req.GetString("content", "")
			if lineNum <= 0 {
				return mcp.NewToolResultError("'line' (positive integer) is required for insert operation"), nil
			}
			if content == "" {
				return mcp.NewToolResultError("'content' is required for insert operation"), nil
			}
			cmd = fmt.Sprintf("sed -i '%di\\%s' %s 2>&1",
				lineNum, sedEscapeInsertText(content), shellQuote(path))

		case "append":
			content := req.GetString("content", "")
			pattern := req.GetString("pattern", "")
			if content == "" {
				return mcp.NewToolResultError("'content' is required for append operation"), nil
			}
			if pattern != "" {
				cmd = fmt.Sprintf("sed -i '/%s/a\\%s' %s 2>&1",
					sedEscapePattern(pattern), sedEscapeInsertText(content), shellQuote(path))
			} else {
				cmd = fmt.Sprintf("printf '\\n%%s' %s >> %s 2>&1",
					shellQuote(content), shellQuote(path))
			}

		case "prepend":
			content := req.GetString("content", "")
			pattern := req.GetString("pattern", "")
			if content == "" {
				return mcp.NewToolResultError("'content' is required for prepend operation"), nil
			}
			if pattern != "" {
				cmd = fmt.Sprintf("sed -i '/%s/i\\%s' %s 2>&1",
					sedEscapePattern(pattern), sedEscapeInsertText(content), shellQuote(path))
			} else {
				cmd = fmt.Sprintf("sed -i '1i\\%s' %s 2>&1",
					sedEscapeInsertText(content), shellQuote(path))
			}

		case "delete":
			pattern := req.GetString("pattern", "")
			startLine := req.GetInt("start_line", 0)
			endLine := req.GetInt("end_line", 0)

			switch {
			case pattern != "":
				cmd = fmt.Sprintf("sed -i '/%s/d' %s 2>&1", sedEscapePattern(pattern), shellQuote(path))
			case startLine > 0 && endLine > 0:
				cmd = fmt.Sprintf("sed -i '%d,%dd' %s 2>&1", startLine, endLine, shellQuote(path))
			case startLine > 0:
				cmd = fmt.Sprintf("sed -i '%dd' %s 2>&1", startLine, shellQuote(path))
			default:
				return mcp.NewToolResultError("'pattern' or 'start_line' is required for delete operation"), nil
			}

		case "replace_line":
			pattern := req.GetString("pattern", "")
			content := req.GetString("content", "")
			if pattern == "" {
				return mcp.NewToolResultError("'pattern' is required for replace_line operation"), nil
			}
			cmd = fmt.Sprintf("sed -i -E 's/^.*(%s).*$/%s/' %s 2>&1",
				sedEscapePattern(pattern), sedEscapeReplacement(content), shellQuote(path))

		default:
			return mcp.NewToolResultError(fmt.Sprintf(
				"Unknown operation: '%s'. Supported: replace, regex, insert, append, prepend, delete, replace_line", operation)), nil
		}

		result, err := mgr.ExecuteCommand(ctx, opts, cmd, fileOpTimeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		msg := fmt.Sprintf("Successfully applied '%s' operation to %s", operation, path)
		if strings.TrimSpace(result.Stdout) != "" {
			msg = result.Stdout
		}

		if fileType := detectFileType(path); fileType != "" {
			if updated, readErr := readRemoteFile(ctx, mgr, opts, path); readErr == nil {
				if result := CheckSyntax(updated, fileType); result != nil {
					if result.Valid {
						msg += fmt.Sprintf("\nSyntax (%s): OK", fileType)
					} else {
						msg += fmt.Sprintf("\n\nSyntax (%s): BROKEN after edit\n%s", fileType, result.Render(path))
					}
				}
			}
		}

		return mcp.NewToolResultText(msg), nil
	}
}

func createValidateHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		forceType := req.GetString("type", "")

		fileType := forceType
		if fileType == "" {
			fileType = detectFileType(path)
		}
		if fileType == "" {
			return mcp.NewToolResultError(fmt.Sprintf(
				"Cannot detect file type for '%s'. Use the 'type' parameter to specify: json, yaml, toml, xml, ini, env, dockerfile", path)), nil
		}

		content, err := readRemoteFile(ctx, mgr, execOpts(req), path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result := CheckSyntax(content, fileType)
		if result == nil {
			return mcp.NewToolResultError(fmt.Sprintf("No server-side validator for type '%s'", fileType)), nil
		}

		return mcp.NewToolResultText(result.Render(path)), nil
	}
}

// fileTypePatterns maps glob-style patterns (matched against a lowercase
// basename) to validator file types. Matched in order — first match wins.
var fileTypePatterns = []struct {
	pattern  string
	fileType string
}{
	{"*.json", "json"},
	{"*.yaml", "yaml"},
	{"*.yml", "yaml"},
	{"*.toml", "toml"},
	{"*.xml", "xml"},
	{"*.xsl", "xml"},
	{"*.xslt", "xml"},
	{"*.svg", "xml"},
	{"*.xhtml", "xml"},
	{"*.plist", "xml"},
	{"*.ini", "ini"},
	{"*.cfg", "ini"},
	{"*.conf", "ini"},
	{"*.env", "env"},
	{"dockerfile*", "dockerfile"},
	{".env*", "env"},
}

func detectFileType(path string) string {
	lower := strings.ToLower(path)
	base := lower
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		base = lower[idx+1:]
	}
	for _, p := range fileTypePatterns {
		if matched, _ := filepath.Match(p.pattern, base); matched {
			return p.fileType
		}
	}
	return ""
}
