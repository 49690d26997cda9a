package validate

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

const maxSyntaxErrors = 5

// checkTreeSitter parses the content with the given grammar and reports
// syntax-error nodes with their lines. Error-free subtrees are pruned during
// the walk.
func (v *Validator) checkTreeSitter(ctx context.Context, result *FileResult, parser *sitter.Parser, content string) {
	src := []byte(content)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		result.errorf("parse failed: %v", err)
		return
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return
	}

	reported := 0
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || reported >= maxSyntaxErrors {
			return
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			snippet := n.Content(src)
			if len(snippet) > 40 {
				snippet = snippet[:40] + "..."
			}
			if snippet == "" {
				result.errorf("syntax error at line %d: missing %s", n.StartPoint().Row+1, n.Type())
			} else {
				result.errorf("syntax error at line %d: %q", n.StartPoint().Row+1, snippet)
			}
			reported++
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	if reported == 0 {
		result.errorf("file does not parse")
	}
}

// =============================================================================
// TYPESCRIPT / JAVASCRIPT
// =============================================================================

// checkBraceBalance scans for unbalanced braces and parentheses outside
// strings and comments.
func checkBraceBalance(result *FileResult, content string) {
	braces, parens := 0, 0
	line := 1
	var inString byte
	inLineComment := false
	inBlockComment := false
	escaped := false

	for i := 0; i < len(content); i++ {
		c := content[i]
		if c == '\n' {
			line++
			inLineComment = false
			if inString == '\'' || inString == '"' {
				inString = 0 // plain strings do not span lines
			}
			continue
		}
		if inLineComment {
			continue
		}
		if inBlockComment {
			if c == '*' && i+1 < len(content) && content[i+1] == '/' {
				inBlockComment = false
				i++
			}
			continue
		}
		if inString != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case inString:
				inString = 0
			}
			continue
		}

		switch c {
		case '\'', '"', '`':
			inString = c
		case '/':
			if i+1 < len(content) {
				switch content[i+1] {
				case '/':
					inLineComment = true
					i++
				case '*':
					inBlockComment = true
					i++
				}
			}
		case '{':
			braces++
		case '}':
			braces--
			if braces < 0 {
				result.errorf("unbalanced closing brace at line %d", line)
				return
			}
		case '(':
			parens++
		case ')':
			parens--
			if parens < 0 {
				result.errorf("unbalanced closing parenthesis at line %d", line)
				return
			}
		}
	}
	if braces > 0 {
		result.errorf("%d unclosed brace(s)", braces)
	}
	if parens > 0 {
		result.errorf("%d unclosed parenthesis(s)", parens)
	}
}

var (
	typeEscapeRe = regexp.MustCompile(`@ts-(ignore|nocheck|expect-error)`)
	anyTypeRe    = regexp.MustCompile(`:\s*any\b|\bas\s+any\b`)
	varDeclRe    = regexp.MustCompile(`(^|[^.$\w])var\s+[A-Za-z_$]`)
)

// checkTypeScriptHygiene warns on escape hatches that usually hide the real
// problem: compiler-suppression directives, explicit any, and var.
func checkTypeScriptHygiene(result *FileResult, content string) {
	var sawEscape, sawVar bool
	for i, line := range strings.Split(content, "\n") {
		if m := typeEscapeRe.FindString(line); m != "" {
			result.warnf("type-escape directive %s at line %d", m, i+1)
			if !sawEscape {
				result.fix("remove the directive and fix the underlying type error")
				sawEscape = true
			}
		}
		if anyTypeRe.MatchString(line) {
			result.warnf("explicit any at line %d", i+1)
		}
		if varDeclRe.MatchString(line) {
			result.warnf("legacy var declaration at line %d", i+1)
			if !sawVar {
				result.fix("declare with let or const")
				sawVar = true
			}
		}
	}
}

// =============================================================================
// PYTHON
// =============================================================================

var pyBlockRe = regexp.MustCompile(`^\s*(if|elif|else|for|while|def|class|try|except|finally|with)\b`)

// checkPython warns on off-grid indentation and block keywords missing their
// colon. Continuation lines (open brackets, trailing backslash) are skipped.
func checkPython(result *FileResult, content string) {
	var sawIndent bool
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" || strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
			continue
		}

		indent := line[:len(line)-len(strings.TrimLeft(line, " "))]
		if !strings.Contains(line[:len(indent)], "\t") && len(indent)%4 != 0 {
			result.warnf("indentation of %d spaces at line %d is not a multiple of 4", len(indent), i+1)
			if !sawIndent {
				result.fix("indent with 4 spaces per level")
				sawIndent = true
			}
		}

		if pyBlockRe.MatchString(trimmed) && !strings.HasSuffix(trimmed, ":") {
			last := trimmed[len(trimmed)-1]
			if last != '(' && last != '[' && last != '{' && last != ',' && last != '\\' {
				result.warnf("possible missing colon at line %d", i+1)
			}
		}
	}
}

// =============================================================================
// SHELL
// =============================================================================

// checkShell warns on a missing shebang and unquoted variable references.
func checkShell(result *FileResult, content string) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "#!") {
		result.warnf("script has no shebang")
		result.fix("add #!/usr/bin/env bash as the first line")
	}

	for i, line := range lines {
		for _, name := range unquotedVariables(line) {
			result.warnf("unquoted variable $%s at line %d", name, i+1)
		}
	}
}

// unquotedVariables returns variable references appearing outside quotes on
// one line. Command substitution and arithmetic are not variable references.
func unquotedVariables(line string) []string {
	var found []string
	var inSingle, inDouble bool
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && !inSingle:
			i++
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == '#' && !inSingle && !inDouble:
			return found
		case c == '$' && !inSingle && !inDouble && i+1 < len(line):
			name := variableName(line[i+1:])
			if name != "" {
				found = append(found, name)
				i += len(name)
			}
		}
	}
	return found
}

func variableName(s string) string {
	if s == "" {
		return ""
	}
	if s[0] == '{' {
		end := strings.IndexByte(s, '}')
		if end > 1 {
			return s[1:end]
		}
		return ""
	}
	end := 0
	for end < len(s) && (isWordByte(s[end]) || (end == 0 && s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	return s[:end]
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
