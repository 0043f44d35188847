package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ssh-mcp/internal/ssh"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

// registerCoreTools registers the six core SSH tools: one-shot execution,
// session lifecycle (create/execute/list/close), and background output
// retrieval.
func registerCoreTools(s *server.MCPServer, mgr *ssh.Manager) {
	s.AddTool(
		mcp.NewTool("ssh_execute",
			mcp.WithDescription("Execute a single shell command over SSH without keeping a session open"),
			mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
			mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
			mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
			mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to execute")),
			mcp.WithNumber("timeout", mcp.Description("Command timeout in seconds (default: 30)")),
		),
		createExecuteHandler(mgr),
	)

	s.AddTool(
		mcp.NewTool("ssh_session_create",
			mcp.WithDescription("Open a persistent interactive shell session on a remote host"),
			mcp.WithString("session_id", mcp.Description("Caller-chosen session ID; a UUID is generated if omitted")),
			mcp.WithString("host", mcp.Required(), mcp.Description("Hostname or IP address")),
			mcp.WithString("username", mcp.Required(), mcp.Description("SSH username")),
			mcp.WithString("private_key_path", mcp.Required(), mcp.Description("Path to private key file")),
			mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
			mcp.WithString("session_type", mcp.Description("interactive or background (default: interactive)")),
			mcp.WithString("mode", mcp.Description("normal or raw (default: normal)")),
			mcp.WithString("shell", mcp.Description("bash, sh, powershell, or cmd (default: bash)")),
		),
		createSessionCreateHandler(mgr),
	)

	s.AddTool(
		mcp.NewTool("ssh_session_execute",
			mcp.WithDescription("Run a command in an existing persistent session"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID returned by ssh_session_create")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to run")),
			mcp.WithNumber("timeout", mcp.Description("Command timeout in seconds (default: 30)")),
			mcp.WithBoolean("raw", mcp.Description("Bypass command framing and return raw channel output (default: false)")),
		),
		createSessionExecuteHandler(mgr),
	)

	s.AddTool(
		mcp.NewTool("ssh_session_list",
			mcp.WithDescription("List all active persistent sessions"),
		),
		createSessionListHandler(mgr),
	)

	s.AddTool(
		mcp.NewTool("ssh_session_close",
			mcp.WithDescription("Close a persistent session"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID to close")),
		),
		createSessionCloseHandler(mgr),
	)

	s.AddTool(
		mcp.NewTool("ssh_session_output",
			mcp.WithDescription("Read buffered output accumulated by a background session"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
			mcp.WithNumber("lines", mcp.Description("Number of most recent lines to return (default: all)")),
			mcp.WithBoolean("clear", mcp.Description("Clear the buffer after reading (default: false)")),
		),
		createSessionOutputHandler(mgr),
	)
}

func execOpts(req mcp.CallToolRequest) ssh.ExecuteOptions {
	return ssh.ExecuteOptions{
		Host:     req.GetString("host", ""),
		Username: req.GetString("username", ""),
		KeyPath:  req.GetString("private_key_path", ""),
		Port:     req.GetInt("port", 22),
	}
}

func formatResult(result ssh.CommandResult) string {
	code := -1
	if result.ExitCode != nil {
		code = *result.ExitCode
	}
	if result.Stderr != "" {
		return fmt.Sprintf("exit code: %d\nstdout:\n%s\nstderr:\n%s", code, result.Stdout, result.Stderr)
	}
	return fmt.Sprintf("exit code: %d\nstdout:\n%s", code, result.Stdout)
}

func createExecuteHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		timeout := time.Duration(req.GetInt("timeout", 30)) * time.Second

		log := logrus.WithFields(logrus.Fields{"tool": "ssh_execute", "host": req.GetString("host", "")})
		log.Info("executing command")

		result, err := mgr.ExecuteCommand(ctx, execOpts(req), command, timeout)
		if err != nil {
			log.WithError(err).Warn("execute failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatResult(result)), nil
	}
}

func createSessionCreateHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("session_id", "")
		if id == "" {
			id = uuid.NewString()
		}
		typ := ssh.SessionType(req.GetString("session_type", string(ssh.TypeInteractive)))
		mode := ssh.SessionMode(req.GetString("mode", string(ssh.ModeNormal)))
		shellKind := ssh.ShellKind(req.GetString("shell", string(ssh.ShellBash)))

		sess, err := mgr.CreateSession(ctx, id, execOpts(req), typ, mode, shellKind)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := json.Marshal(sess.Info())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func createSessionExecuteHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		timeout := time.Duration(req.GetInt("timeout", 30)) * time.Second
		raw := req.GetBool("raw", false)

		result, err := mgr.ExecuteInSession(sessionID, command, timeout, raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatResult(result)), nil
	}
}

func createSessionListHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		infos := mgr.ListSessions()
		if len(infos) == 0 {
			return mcp.NewToolResultText("no active sessions"), nil
		}
		out := ""
		for _, info := range infos {
			out += fmt.Sprintf("%s  %s@%s:%d  type=%s  shell=%s  active=%v  last_activity=%s\n",
				info.SessionID, info.Username, info.Host, info.Port, info.Type, info.ShellKind, info.IsActive,
				info.LastActivity.Format(time.RFC3339))
		}
		return mcp.NewToolResultText(out), nil
	}
}

func createSessionCloseHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := mgr.CloseSession(sessionID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("session closed: %s", sessionID)), nil
	}
}

func createSessionOutputHandler(mgr *ssh.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		lines := req.GetInt("lines", 0)
		clear := req.GetBool("clear", false)

		buffered, err := mgr.GetSessionOutput(sessionID, lines, clear)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out := ""
		for _, chunk := range buffered {
			out += chunk
		}
		if out == "" {
			out = "(no buffered output)"
		}
		return mcp.NewToolResultText(out), nil
	}
}
