package stencil

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// compileString is a test helper for the full tokenize-parse-compile path.
func compileString(t *testing.T, source string, helpers HelperMap, partials PartialMap) *Template {
	t.Helper()
	tmpl, err := Compile("test", source, helpers, partials)
	if err != nil {
		t.Fatalf("Compile(%q) failed: %v", source, err)
	}
	return tmpl
}

func render(t *testing.T, tmpl *Template, ctx any) string {
	t.Helper()
	out, err := tmpl.Render(ctx)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return out
}

func TestRender_EscapingPolicy(t *testing.T) {
	ctx := map[string]any{"name": "<b>Bob</b>"}

	if out := render(t, compileString(t, "{{ name }}", nil, nil), ctx); out != "&lt;b&gt;Bob&lt;/b&gt;" {
		t.Errorf("default escaping produced %q", out)
	}
	if out := render(t, compileString(t, "{{{ name }}}", nil, nil), ctx); out != "<b>Bob</b>" {
		t.Errorf("raw expression produced %q", out)
	}
	if out := render(t, compileString(t, "{{unescape name}}", nil, nil), ctx); !strings.Contains(out, "<b>Bob</b>") {
		t.Errorf("unescape helper produced %q", out)
	}
}

func TestRender_PathResolution(t *testing.T) {
	type profile struct {
		City string
	}
	ctx := map[string]any{
		"user":  map[string]any{"name": "Amy", "tags": []string{"a", "b"}},
		"prof":  profile{City: "Oslo"},
		"items": []any{10, 20, 30},
	}

	cases := []struct {
		source string
		want   string
	}{
		{"{{ user.name }}", "Amy"},
		{"{{ user.tags.1 }}", "b"},
		{"{{ items[2] }}", "30"},
		{"{{ prof.City }}", "Oslo"},
		{"{{ missing.deep.path }}", ""},
		{"{{ user.name.impossible }}", ""},
	}
	for _, tc := range cases {
		if out := render(t, compileString(t, tc.source, nil, nil), ctx); out != tc.want {
			t.Errorf("render(%q) = %q, want %q", tc.source, out, tc.want)
		}
	}
}

func TestRender_IsDeterministic(t *testing.T) {
	tmpl := compileString(t, "{{#each items}}{{ this }}-{{/each}}{{ user.name }}", nil, nil)
	ctx := map[string]any{
		"items": []int{1, 2, 3},
		"user":  map[string]any{"name": "Amy"},
	}
	first := render(t, tmpl, ctx)
	second := render(t, tmpl, ctx)
	if first != second {
		t.Errorf("renders differ: %q vs %q", first, second)
	}
}

func TestCompile_UnknownHelper(t *testing.T) {
	_, err := Compile("test", "{{#shout name}}x{{/shout}}", nil, nil)
	var unknown *UnknownHelperError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownHelperError, got %v", err)
	}
	if unknown.Helper != "shout" {
		t.Errorf("error names helper %q, want %q", unknown.Helper, "shout")
	}

	// Expression helpers with arguments are checked at compile time too.
	if _, err = Compile("test", "{{shout name}}", nil, nil); err == nil {
		t.Error("expected compile-time error for unknown expression helper")
	}
}

func TestCompile_UnknownPartial(t *testing.T) {
	_, err := Compile("test", "{{> sidebar}}", nil, nil)
	var unknown *UnknownPartialError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPartialError, got %v", err)
	}
	if unknown.Partial != "sidebar" {
		t.Errorf("error names partial %q, want %q", unknown.Partial, "sidebar")
	}
}

func TestCompile_HelperOverride(t *testing.T) {
	// Caller-supplied helpers replace built-ins unconditionally, including
	// core control flow.
	helpers := HelperMap{
		"if": func(ctx any, opts *Options, args ...any) (string, error) {
			return opts.RenderPrimary(ctx)
		},
	}
	tmpl := compileString(t, "{{#if nope}}always{{else}}never{{/if}}", helpers, nil)
	if out := render(t, tmpl, map[string]any{}); out != "always" {
		t.Errorf("override did not replace built-in if: %q", out)
	}
}

func TestRender_CustomExpressionHelper(t *testing.T) {
	helpers := HelperMap{
		"shout": func(_ any, _ *Options, args ...any) (string, error) {
			return strings.ToUpper(stringify(args[0])), nil
		},
	}
	tmpl := compileString(t, "{{shout user.name}}", helpers, nil)
	if out := render(t, tmpl, map[string]any{"user": map[string]any{"name": "amy"}}); out != "AMY" {
		t.Errorf("custom helper produced %q", out)
	}
}

func TestRender_CustomBlockHelper(t *testing.T) {
	// A block helper alone decides which section runs and with what
	// context; the compiler never calls the bodies itself.
	helpers := HelperMap{
		"twice": func(ctx any, opts *Options, args ...any) (string, error) {
			first, err := opts.RenderPrimary(args[0])
			if err != nil {
				return "", err
			}
			second, err := opts.RenderPrimary(args[0])
			if err != nil {
				return "", err
			}
			return first + second, nil
		},
	}
	tmpl := compileString(t, "{{#twice user}}[{{ name }}]{{/twice}}", helpers, nil)
	ctx := map[string]any{"user": map[string]any{"name": "Amy"}}
	if out := render(t, tmpl, ctx); out != "[Amy][Amy]" {
		t.Errorf("block helper produced %q", out)
	}
}

func TestRender_HelperErrorIsWrapped(t *testing.T) {
	cause := errors.New("backend unavailable")
	helpers := HelperMap{
		"fetch": func(any, *Options, ...any) (string, error) {
			return "", cause
		},
	}
	tmpl := compileString(t, "{{fetch}}", helpers, nil)
	_, err := tmpl.Render(nil)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if renderErr.Helper != "fetch" {
		t.Errorf("error names helper %q, want %q", renderErr.Helper, "fetch")
	}
	if !errors.Is(err, cause) {
		t.Error("causal chain does not reach the root cause")
	}
}

func TestRender_HelperPanicIsWrapped(t *testing.T) {
	helpers := HelperMap{
		"boom": func(any, *Options, ...any) (string, error) {
			panic("kaput")
		},
	}
	tmpl := compileString(t, "{{boom}}", helpers, nil)
	_, err := tmpl.Render(nil)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaput") {
		t.Errorf("panic value lost: %v", err)
	}
}

func TestRender_Partials(t *testing.T) {
	header, err := Compile("header", "== {{ title }} ==", nil, nil)
	if err != nil {
		t.Fatalf("failed to compile partial: %v", err)
	}
	partials := PartialMap{"header": header}

	tmpl := compileString(t, "{{> header}}body", nil, partials)
	out := render(t, tmpl, map[string]any{"title": "Home"})
	if out != "== Home ==body" {
		t.Errorf("partial render produced %q", out)
	}

	// With a context path the partial sees only the sub-value.
	tmpl = compileString(t, "{{> header page}}", nil, partials)
	out = render(t, tmpl, map[string]any{"page": map[string]any{"title": "About"}})
	if out != "== About ==" {
		t.Errorf("rescoped partial produced %q", out)
	}
}

func TestRender_SelfReferentialPartialFails(t *testing.T) {
	// The placeholder lets the compiled template reference itself, the
	// tightest possible partial cycle.
	self := &Template{}
	tmpl, err := Compile("loop", "x{{> self}}", nil, PartialMap{"self": self})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	*self = *tmpl

	_, err = tmpl.Render(nil)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if !errors.Is(err, ErrMaxRenderDepth) {
		t.Errorf("expected ErrMaxRenderDepth in the chain, got %v", err)
	}
}

func TestWithMaxRenderDepth(t *testing.T) {
	inner, _ := Compile("inner", "leaf", nil, nil)
	outer, err := Compile("outer", "{{> inner}}", nil, PartialMap{"inner": inner}, WithMaxRenderDepth(0))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err = outer.Render(nil); !errors.Is(err, ErrMaxRenderDepth) {
		t.Errorf("expected depth error at limit 0, got %v", err)
	}
}

func TestNewTemplate_FromPrebuiltTree(t *testing.T) {
	tokens, err := Tokenize("manual", "Hi {{ name }}")
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	tree, err := BuildSyntaxTree("manual", tokens)
	if err != nil {
		t.Fatalf("BuildSyntaxTree failed: %v", err)
	}
	// NewTemplate binds against exactly the maps it is given; no built-in
	// merge happens at this layer.
	tmpl, err := NewTemplate("manual", Builtins(), nil, tree)
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	if out := render(t, tmpl, map[string]any{"name": "Ada"}); out != "Hi Ada" {
		t.Errorf("unexpected output %q", out)
	}
}

func BenchmarkRender_Mixed(b *testing.B) {
	tmpl, err := Compile("bench",
		"{{#each items}}<li>{{ name }}: {{plusOne qty}}</li>{{/each}}", nil, nil)
	if err != nil {
		b.Fatalf("Compile failed: %v", err)
	}
	items := make([]any, 50)
	for i := range items {
		items[i] = map[string]any{"name": fmt.Sprintf("item-%d", i), "qty": i}
	}
	ctx := map[string]any{"items": items}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tmpl.Render(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
