package stencil

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a single vertex of the syntax tree. The tree is owned by the
// compiled template and never mutated after construction.
type Node interface {
	node()
}

// TextNode is literal output with no interpolation.
type TextNode struct {
	Value string
}

// ExpressionNode interpolates a value into the output. When Args is empty
// Path is a context accessor; when Args is non-empty (or Path names a
// registered helper) the expression is a helper invocation and Path is the
// helper name. Raw suppresses HTML escaping of the resolved value.
type ExpressionNode struct {
	Path string
	Args []Arg
	Raw  bool
	Pos  Position
}

// BlockNode is a helper block with a primary section and an optional
// inverse ("else") section.
type BlockNode struct {
	Name    string
	Args    []Arg
	Primary []Node
	Inverse []Node
	Pos     Position
}

// PartialNode references a separately compiled template by name,
// optionally rescoping the context to a sub-path before invoking it.
type PartialNode struct {
	Name        string
	ContextPath string
	Pos         Position
}

func (*TextNode) node()       {}
func (*ExpressionNode) node() {}
func (*BlockNode) node()      {}
func (*PartialNode) node()    {}

// Arg is one argument of a helper invocation: either a literal (quoted
// string, number, or boolean) or a context path resolved at render time.
type Arg struct {
	Literal   any
	Path      string
	IsLiteral bool
}

// resolve produces the argument's value against the given context.
func (a Arg) resolve(ctx any) any {
	if a.IsLiteral {
		return a.Literal
	}
	return resolvePath(ctx, a.Path)
}

// blockFrame tracks one open block while the tree is being built.
type blockFrame struct {
	name      string
	args      []Arg
	pos       Position
	primary   []Node
	inverse   []Node
	inInverse bool
}

// BuildSyntaxTree folds a token sequence into the root node list. Block
// nesting is enforced with an explicit stack: every opener must be closed
// by a closer naming the same helper, and each block may contain at most
// one else marker. Violations fail with a SyntaxError; there is no
// best-effort recovery.
func BuildSyntaxTree(templateID string, tokens []Token) ([]Node, error) {
	var root []Node
	var stack []*blockFrame

	appendNode := func(n Node) {
		if len(stack) == 0 {
			root = append(root, n)
			return
		}
		top := stack[len(stack)-1]
		if top.inInverse {
			top.inverse = append(top.inverse, n)
		} else {
			top.primary = append(top.primary, n)
		}
	}

	for _, tok := range tokens {
		switch tok.Kind {
		case TokenText:
			appendNode(&TextNode{Value: tok.Value})

		case TokenExpression:
			name, args, err := parseInvocation(templateID, tok)
			if err != nil {
				return nil, err
			}
			appendNode(&ExpressionNode{Path: name, Args: args, Raw: tok.Raw, Pos: tok.Pos})

		case TokenBlockOpen:
			name, args, err := parseInvocation(templateID, tok)
			if err != nil {
				return nil, err
			}
			stack = append(stack, &blockFrame{name: name, args: args, pos: tok.Pos})

		case TokenBlockInverse:
			if len(stack) == 0 {
				return nil, &SyntaxError{TemplateID: templateID, Pos: tok.Pos, Msg: "{{else}} outside of a block"}
			}
			top := stack[len(stack)-1]
			if top.inInverse {
				return nil, &SyntaxError{TemplateID: templateID, Pos: tok.Pos,
					Msg: fmt.Sprintf("second {{else}} in block %q opened at %s", top.name, top.pos)}
			}
			top.inInverse = true

		case TokenBlockClose:
			if len(stack) == 0 {
				return nil, &SyntaxError{TemplateID: templateID, Pos: tok.Pos,
					Msg: fmt.Sprintf("closing tag {{/%s}} has no matching opener", tok.Value)}
			}
			top := stack[len(stack)-1]
			if top.name != tok.Value {
				return nil, &SyntaxError{TemplateID: templateID, Pos: tok.Pos,
					Msg: fmt.Sprintf("closing tag {{/%s}} does not match block %q opened at %s", tok.Value, top.name, top.pos)}
			}
			stack = stack[:len(stack)-1]
			appendNode(&BlockNode{Name: top.name, Args: top.args, Primary: top.primary, Inverse: top.inverse, Pos: top.pos})

		case TokenPartial:
			terms := splitTerms(tok.Value)
			node := &PartialNode{Name: terms[0], Pos: tok.Pos}
			if len(terms) > 1 {
				node.ContextPath = terms[1]
			}
			appendNode(node)

		case TokenComment:
			// Comments produce no node.
		}
	}

	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return nil, &SyntaxError{TemplateID: templateID, Pos: top.pos,
			Msg: fmt.Sprintf("block %q opened at %s is never closed", top.name, top.pos)}
	}

	return root, nil
}

// parseInvocation splits a tag interior into a leading name and its
// argument expressions.
func parseInvocation(templateID string, tok Token) (string, []Arg, error) {
	terms := splitTerms(tok.Value)
	if len(terms) == 0 {
		return "", nil, &SyntaxError{TemplateID: templateID, Pos: tok.Pos, Msg: "empty expression"}
	}
	name := terms[0]
	var args []Arg
	for _, term := range terms[1:] {
		args = append(args, parseArg(term))
	}
	return name, args, nil
}

// splitTerms splits a tag interior on whitespace while keeping
// double-quoted strings intact.
func splitTerms(s string) []string {
	var terms []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if cur.Len() > 0 {
				terms = append(terms, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		terms = append(terms, cur.String())
	}
	return terms
}

// parseArg classifies one argument term as a literal or a context path.
func parseArg(term string) Arg {
	if len(term) >= 2 && term[0] == '"' && term[len(term)-1] == '"' {
		return Arg{Literal: term[1 : len(term)-1], IsLiteral: true}
	}
	if term == "true" {
		return Arg{Literal: true, IsLiteral: true}
	}
	if term == "false" {
		return Arg{Literal: false, IsLiteral: true}
	}
	if n, err := strconv.Atoi(term); err == nil {
		return Arg{Literal: n, IsLiteral: true}
	}
	if f, err := strconv.ParseFloat(term, 64); err == nil {
		return Arg{Literal: f, IsLiteral: true}
	}
	return Arg{Path: term}
}
