// Package compiler parses the text form of student programs into a node tree.
// The grammar is line oriented: one call per line, blocks in braces.
//
//	start {
//	  say('hello')
//	  loop(3) {
//	    wave()
//	  }
//	}
package compiler

import (
	"fmt"
	"strings"
	"unicode"
)

// Node is one parsed call.
type Node struct {
	Type     string   `json:"type"`
	Token    string   `json:"token"`
	Args     []string `json:"args,omitempty"`
	Children []Node   `json:"children,omitempty"`
	Line     int      `json:"line"`
}

// ParseError is a syntax problem. Lines and columns start at 1.
type ParseError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (e ParseError) String() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// Result holds the top-level nodes and every error found. Parsing continues
// past errors so all of them are reported.
type Result struct {
	Nodes  []Node       `json:"nodes"`
	Errors []ParseError `json:"errors,omitempty"`
}

// HasErrors reports whether the program failed to parse.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// Parse parses code.
func Parse(code string) *Result {
	p := &parser{lines: strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")}
	nodes := p.block(0)
	return &Result{Nodes: nodes, Errors: p.errors}
}

type parser struct {
	lines  []string
	pos    int
	errors []ParseError
}

func (p *parser) fail(line, column int, format string, args ...any) {
	p.errors = append(p.errors, ParseError{Line: line, Column: column, Message: fmt.Sprintf(format, args...)})
}

// block parses lines until a closing brace at this depth or the end of input.
func (p *parser) block(depth int) []Node {
	var nodes []Node
	for p.pos < len(p.lines) {
		lineNo := p.pos + 1
		raw := p.lines[p.pos]
		p.pos++

		text := strings.TrimSpace(stripComment(raw))
		if text == "" {
			continue
		}
		column := strings.Index(raw, text) + 1

		if text == "}" {
			if depth == 0 {
				p.fail(lineNo, column, "Unexpected '}'")
				continue
			}
			return nodes
		}

		opens := strings.HasSuffix(text, "{")
		if opens {
			text = strings.TrimSpace(strings.TrimSuffix(text, "{"))
		}

		node, ok := p.call(text, lineNo, column)
		if opens {
			children := p.block(depth + 1)
			if ok {
				node.Type = "Block"
				node.Children = children
			}
		}
		if ok {
			nodes = append(nodes, node)
		}
	}
	if depth > 0 {
		p.fail(len(p.lines), 1, "Missing '}'")
	}
	return nodes
}

// call parses "name" or "name(arg, ...)".
func (p *parser) call(text string, line, column int) (Node, bool) {
	name := text
	var args []string

	if open := strings.IndexByte(text, '('); open >= 0 {
		if !strings.HasSuffix(text, ")") {
			p.fail(line, column+len(text), "Expected ')'")
			return Node{}, false
		}
		name = strings.TrimSpace(text[:open])
		var err string
		args, err = splitArgs(text[open+1 : len(text)-1])
		if err != "" {
			p.fail(line, column+open+1, "%s", err)
			return Node{}, false
		}
	}

	if !isIdentifier(name) {
		p.fail(line, column, "Invalid function name '%s'", name)
		return Node{}, false
	}
	return Node{Type: "Function", Token: name, Args: args, Line: line}, true
}

// splitArgs splits on commas outside single or double quotes. Quotes are removed.
func splitArgs(s string) ([]string, string) {
	if strings.TrimSpace(s) == "" {
		return nil, ""
	}

	var args []string
	var current strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
		case r == ',':
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, "Unterminated string"
	}
	args = append(args, strings.TrimSpace(current.String()))
	return args, ""
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		return line[:i]
	}
	return line
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
