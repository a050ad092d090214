package stencil

import (
	"errors"
	"strings"
	"testing"
)

func mustTokenize(t *testing.T, source string) []Token {
	t.Helper()
	tokens, err := Tokenize("test", source)
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	return tokens
}

func TestBuildSyntaxTree_BlockNesting(t *testing.T) {
	source := "{{#if ready}}yes {{#each items}}{{ this }}{{/each}}{{else}}no{{/if}}"
	tree, err := BuildSyntaxTree("test", mustTokenize(t, source))
	if err != nil {
		t.Fatalf("BuildSyntaxTree failed: %v", err)
	}
	if len(tree) != 1 {
		t.Fatalf("expected a single root node, got %d", len(tree))
	}

	block, ok := tree[0].(*BlockNode)
	if !ok {
		t.Fatalf("expected BlockNode, got %T", tree[0])
	}
	if block.Name != "if" || len(block.Args) != 1 || block.Args[0].Path != "ready" {
		t.Errorf("unexpected block header: %+v", block)
	}
	if len(block.Primary) != 2 {
		t.Fatalf("expected 2 primary children, got %d", len(block.Primary))
	}
	inner, ok := block.Primary[1].(*BlockNode)
	if !ok || inner.Name != "each" {
		t.Errorf("expected nested each block, got %+v", block.Primary[1])
	}
	if len(block.Inverse) != 1 {
		t.Fatalf("expected 1 inverse child, got %d", len(block.Inverse))
	}
	if text, ok := block.Inverse[0].(*TextNode); !ok || text.Value != "no" {
		t.Errorf("unexpected inverse child: %+v", block.Inverse[0])
	}
}

func TestBuildSyntaxTree_MismatchedClose(t *testing.T) {
	_, err := BuildSyntaxTree("test", mustTokenize(t, "{{#if a}}x{{/each}}"))
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	// The error must identify both the closer and the opener.
	if !strings.Contains(syntaxErr.Msg, "each") || !strings.Contains(syntaxErr.Msg, "if") {
		t.Errorf("error does not name both blocks: %v", syntaxErr)
	}
}

func TestBuildSyntaxTree_UnterminatedBlock(t *testing.T) {
	_, err := BuildSyntaxTree("test", mustTokenize(t, "{{#each items}}x"))
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if !strings.Contains(syntaxErr.Msg, "each") {
		t.Errorf("error does not name the unterminated block: %v", syntaxErr)
	}
}

func TestBuildSyntaxTree_ElseErrors(t *testing.T) {
	if _, err := BuildSyntaxTree("test", mustTokenize(t, "{{else}}")); err == nil {
		t.Error("expected error for else outside a block")
	}
	if _, err := BuildSyntaxTree("test", mustTokenize(t, "{{#if a}}x{{else}}y{{else}}z{{/if}}")); err == nil {
		t.Error("expected error for a second else in one block")
	}
}

func TestBuildSyntaxTree_StrayClose(t *testing.T) {
	if _, err := BuildSyntaxTree("test", mustTokenize(t, "x{{/if}}")); err == nil {
		t.Error("expected error for a closer with no opener")
	}
}

func TestBuildSyntaxTree_PartialNode(t *testing.T) {
	tree, err := BuildSyntaxTree("test", mustTokenize(t, "{{> header person.profile}}"))
	if err != nil {
		t.Fatalf("BuildSyntaxTree failed: %v", err)
	}
	partial, ok := tree[0].(*PartialNode)
	if !ok {
		t.Fatalf("expected PartialNode, got %T", tree[0])
	}
	if partial.Name != "header" || partial.ContextPath != "person.profile" {
		t.Errorf("unexpected partial node: %+v", partial)
	}
}

func TestBuildSyntaxTree_CommentsProduceNoNode(t *testing.T) {
	tree, err := BuildSyntaxTree("test", mustTokenize(t, "a{{! ignored }}b"))
	if err != nil {
		t.Fatalf("BuildSyntaxTree failed: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(tree))
	}
}

func TestParseArg_Literals(t *testing.T) {
	cases := []struct {
		term    string
		literal any
	}{
		{"42", 42},
		{"4.5", 4.5},
		{"true", true},
		{"false", false},
	}
	for _, tc := range cases {
		arg := parseArg(tc.term)
		if !arg.IsLiteral || arg.Literal != tc.literal {
			t.Errorf("parseArg(%q) = %+v, want literal %v", tc.term, arg, tc.literal)
		}
	}

	arg := parseArg(`"hello world"`)
	if !arg.IsLiteral || arg.Literal != "hello world" {
		t.Errorf("quoted string literal not parsed: %+v", arg)
	}

	arg = parseArg("user.name")
	if arg.IsLiteral || arg.Path != "user.name" {
		t.Errorf("path argument not parsed: %+v", arg)
	}
}

func TestSplitTerms_QuotedStrings(t *testing.T) {
	terms := splitTerms(`ifEqual status "in progress"`)
	if len(terms) != 3 || terms[2] != `"in progress"` {
		t.Errorf("quoted term split incorrectly: %v", terms)
	}
}
