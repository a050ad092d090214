package stencil

import (
	"strings"
)

// TokenKind identifies the syntactic role of a Token.
type TokenKind int

const (
	// TokenText is literal output between tags.
	TokenText TokenKind = iota
	// TokenExpression is an interpolated value: {{ path }} or {{{ path }}}.
	TokenExpression
	// TokenBlockOpen opens a helper block: {{#name arg1 arg2}}.
	TokenBlockOpen
	// TokenBlockInverse is the else marker inside a block: {{else}}.
	TokenBlockInverse
	// TokenBlockClose closes a helper block: {{/name}}.
	TokenBlockClose
	// TokenPartial references a compiled partial: {{> name [path]}}.
	TokenPartial
	// TokenComment is an ignored tag: {{! ... }} or {{!-- ... --}}.
	TokenComment
)

// Token is a single lexed unit of template source. Value holds the tag
// interior with the sigil and surrounding whitespace stripped (for text
// tokens, the literal text). Tokens are immutable once produced.
type Token struct {
	Kind       TokenKind
	Value      string
	Raw        bool // triple-stache expression, emitted without escaping
	TemplateID string
	Pos        Position
}

const (
	openDelim     = "{{"
	closeDelim    = "}}"
	openRawDelim  = "{{{"
	closeRawDelim = "}}}"
)

// Tokenize scans template source into a flat token sequence. Everything
// outside {{ }} delimiters becomes a text token; tag interiors are
// classified by their leading sigil. A tag opened but never closed before
// end of input fails with a SyntaxError at the opening position.
func Tokenize(templateID, source string) ([]Token, error) {
	var tokens []Token
	pos := Position{Line: 1, Column: 1}

	for len(source) > 0 {
		open := strings.Index(source, openDelim)
		if open == -1 {
			tokens = append(tokens, Token{Kind: TokenText, Value: source, TemplateID: templateID, Pos: pos})
			break
		}
		if open > 0 {
			tokens = append(tokens, Token{Kind: TokenText, Value: source[:open], TemplateID: templateID, Pos: pos})
			pos = advance(pos, source[:open])
			source = source[open:]
		}

		tagPos := pos
		var inner string
		var raw bool
		if strings.HasPrefix(source, openRawDelim) {
			end := strings.Index(source[len(openRawDelim):], closeRawDelim)
			if end == -1 {
				return nil, &SyntaxError{TemplateID: templateID, Pos: tagPos, Msg: "unterminated {{{ tag"}
			}
			inner = source[len(openRawDelim) : len(openRawDelim)+end]
			raw = true
			tag := source[:len(openRawDelim)+end+len(closeRawDelim)]
			pos = advance(pos, tag)
			source = source[len(tag):]
		} else {
			end := strings.Index(source[len(openDelim):], closeDelim)
			if end == -1 {
				return nil, &SyntaxError{TemplateID: templateID, Pos: tagPos, Msg: "unterminated {{ tag"}
			}
			inner = source[len(openDelim) : len(openDelim)+end]
			tag := source[:len(openDelim)+end+len(closeDelim)]
			pos = advance(pos, tag)
			source = source[len(tag):]
		}

		tok, err := classifyTag(templateID, strings.TrimSpace(inner), raw, tagPos)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}

	return tokens, nil
}

// classifyTag turns a trimmed tag interior into a typed token.
func classifyTag(templateID, inner string, raw bool, pos Position) (Token, error) {
	tok := Token{TemplateID: templateID, Pos: pos, Raw: raw}

	if inner == "" {
		return tok, &SyntaxError{TemplateID: templateID, Pos: pos, Msg: "empty tag"}
	}

	switch inner[0] {
	case '!':
		tok.Kind = TokenComment
		tok.Value = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(inner[1:], "--"), "--"))
		return tok, nil
	case '#':
		tok.Kind = TokenBlockOpen
		tok.Value = strings.TrimSpace(inner[1:])
		if tok.Value == "" {
			return tok, &SyntaxError{TemplateID: templateID, Pos: pos, Msg: "block opener is missing a helper name"}
		}
		return tok, nil
	case '/':
		tok.Kind = TokenBlockClose
		tok.Value = strings.TrimSpace(inner[1:])
		if tok.Value == "" {
			return tok, &SyntaxError{TemplateID: templateID, Pos: pos, Msg: "block closer is missing a helper name"}
		}
		return tok, nil
	case '>':
		tok.Kind = TokenPartial
		tok.Value = strings.TrimSpace(inner[1:])
		if tok.Value == "" {
			return tok, &SyntaxError{TemplateID: templateID, Pos: pos, Msg: "partial reference is missing a name"}
		}
		return tok, nil
	}

	if inner == "else" {
		tok.Kind = TokenBlockInverse
		tok.Value = inner
		return tok, nil
	}

	tok.Kind = TokenExpression
	tok.Value = inner
	return tok, nil
}

// advance moves a position past the given chunk of source text.
func advance(pos Position, s string) Position {
	for _, r := range s {
		if r == '\n' {
			pos.Line++
			pos.Column = 1
		} else {
			pos.Column++
		}
	}
	return pos
}
