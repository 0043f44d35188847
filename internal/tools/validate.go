// Package tools provides MCP tool implementations.
// validate.go checks structured-file syntax locally, without touching the
// remote host — useful before an edit is pushed over a session.
package tools

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Issue is one syntax problem found at (or near) a specific line. Line is 0
// for whole-document errors that don't map to a single line.
type Issue struct {
	Line    int
	Message string
}

// SyntaxCheck is the outcome of validating one file's content against its
// declared type.
type SyntaxCheck struct {
	Valid    bool
	FileType string
	Issues   []Issue
}

func (c *SyntaxCheck) fail(line int, format string, args ...interface{}) {
	c.Issues = append(c.Issues, Issue{Line: line, Message: fmt.Sprintf(format, args...)})
}

// Render returns a human-readable summary for path.
func (c *SyntaxCheck) Render(path string) string {
	if c.Valid {
		return fmt.Sprintf("✓ Valid %s — %s", strings.ToUpper(c.FileType), path)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✗ INVALID %s — %s\n", strings.ToUpper(c.FileType), path)
	for _, issue := range c.Issues {
		if issue.Line > 0 {
			fmt.Fprintf(&b, "  line %d: %s\n", issue.Line, issue.Message)
		} else {
			fmt.Fprintf(&b, "  %s\n", issue.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

var syntaxValidators = map[string]func(string) *SyntaxCheck{
	"json":       validateJSON,
	"yaml":       validateYAML,
	"toml":       validateTOML,
	"xml":        validateXML,
	"ini":        validateINI,
	"env":        validateENV,
	"dockerfile": validateDockerfile,
}

// CheckSyntax validates content against the validator registered for
// fileType, or returns nil if fileType has no registered validator (no
// opinion, not a failure).
func CheckSyntax(content, fileType string) *SyntaxCheck {
	validate, ok := syntaxValidators[fileType]
	if !ok {
		return nil
	}
	return validate(content)
}

func validateJSON(content string) *SyntaxCheck {
	c := &SyntaxCheck{FileType: "json"}
	var v interface{}
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		c.fail(0, "%s", err)
		return c
	}
	c.Valid = true
	return c
}

func validateYAML(content string) *SyntaxCheck {
	c := &SyntaxCheck{FileType: "yaml"}
	dec := yaml.NewDecoder(strings.NewReader(content))
	for {
		var v interface{}
		err := dec.Decode(&v)
		if err == io.EOF {
			break
		}
		if err != nil {
			c.fail(0, "%s", err)
			return c
		}
	}
	c.Valid = true
	return c
}

func validateTOML(content string) *SyntaxCheck {
	c := &SyntaxCheck{FileType: "toml"}
	var v interface{}
	if _, err := toml.Decode(content, &v); err != nil {
		c.fail(0, "%s", err)
		return c
	}
	c.Valid = true
	return c
}

func validateXML(content string) *SyntaxCheck {
	c := &SyntaxCheck{FileType: "xml"}
	dec := xml.NewDecoder(strings.NewReader(content))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.fail(0, "%s", err)
			return c
		}
	}
	c.Valid = true
	return c
}

// scanLines runs onLine over every line of content (1-indexed), skipping
// blank lines and lines starting with any of commentPrefixes.
func scanLines(content string, commentPrefixes []string, onLine func(lineNum int, line string)) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		skip := false
		for _, prefix := range commentPrefixes {
			if strings.HasPrefix(line, prefix) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		onLine(lineNum, line)
	}
}

// validateINI checks section headers ([section]) and key=value / key:value
// pairs. Comments start with # or ;.
func validateINI(content string) *SyntaxCheck {
	c := &SyntaxCheck{Valid: true, FileType: "ini"}
	scanLines(content, []string{"#", ";"}, func(lineNum int, line string) {
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				c.fail(lineNum, "unclosed section header: %s", line)
			}
			return
		}
		if !strings.ContainsAny(line, "=:") {
			c.fail(lineNum, "invalid syntax: %s", line)
		}
	})
	c.Valid = len(c.Issues) == 0
	return c
}

// validateENV checks KEY=VALUE lines; keys must start with a letter or
// underscore and may carry a leading "export ". Comments start with #.
func validateENV(content string) *SyntaxCheck {
	c := &SyntaxCheck{Valid: true, FileType: "env"}
	scanLines(content, []string{"#"}, func(lineNum int, line string) {
		eqIdx := strings.Index(line, "=")
		if eqIdx <= 0 {
			c.fail(lineNum, "missing KEY=VALUE format: %s", line)
			return
		}

		key := strings.TrimSpace(line[:eqIdx])
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		if key == "" {
			c.fail(lineNum, "empty key")
			return
		}

		first := key[0]
		if !((first >= 'A' && first <= 'Z') || (first >= 'a' && first <= 'z') || first == '_') {
			c.fail(lineNum, "key must start with letter or underscore: %s", key)
		}
	})
	c.Valid = len(c.Issues) == 0
	return c
}

var dockerfileInstructions = map[string]bool{
	"FROM": true, "RUN": true, "CMD": true, "LABEL": true,
	"EXPOSE": true, "ENV": true, "ADD": true, "COPY": true,
	"ENTRYPOINT": true, "VOLUME": true, "USER": true, "WORKDIR": true,
	"ARG": true, "ONBUILD": true, "STOPSIGNAL": true, "HEALTHCHECK": true,
	"SHELL": true, "MAINTAINER": true,
}

// validateDockerfile checks that every non-continuation instruction line
// names a known Dockerfile instruction and that a FROM line exists.
func validateDockerfile(content string) *SyntaxCheck {
	c := &SyntaxCheck{Valid: true, FileType: "dockerfile"}
	continuation := false
	hasFrom := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		trimmed := strings.TrimSpace(scanner.Text())

		if continuation {
			continuation = strings.HasSuffix(trimmed, "\\")
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		continuation = strings.HasSuffix(trimmed, "\\")

		parts := strings.Fields(trimmed)
		if len(parts) == 0 {
			continue
		}
		instruction := strings.ToUpper(parts[0])
		if instruction == "FROM" {
			hasFrom = true
		}
		if !dockerfileInstructions[instruction] {
			c.fail(lineNum, "unknown instruction: %s", parts[0])
		}
	}

	if !hasFrom && strings.TrimSpace(content) != "" {
		c.fail(0, "missing FROM instruction")
	}

	c.Valid = len(c.Issues) == 0
	return c
}
