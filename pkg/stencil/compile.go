package stencil

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Helper is the calling convention shared by built-in and custom helpers.
// Block helpers receive their primary and inverse sections through opts and
// alone decide which, if either, to render and against what context.
// Helpers used as plain expressions simply return a string; their output is
// emitted verbatim, so a helper that produces markup-unsafe text should
// escape it itself (see EscapeHTML).
type Helper func(ctx any, opts *Options, args ...any) (string, error)

// HelperMap maps helper names to implementations.
type HelperMap map[string]Helper

// PartialMap maps partial names to already compiled templates.
type PartialMap map[string]*Template

// Template is a compiled render function. It is immutable, holds no
// external mutable state, and is safe for concurrent Render calls as long
// as the caller does not mutate the context during rendering.
type Template struct {
	id       string
	render   stepFunc
	maxDepth int
}

// stepFunc is the internal shape of compiled render closures. The render
// state threads the partial-invocation depth through nested calls.
type stepFunc func(ctx any, st *renderState) (string, error)

type renderState struct {
	depth    int
	maxDepth int
}

// Options exposes a block helper's precompiled sections. The sub-renderers
// do not close over a fixed context; they render against whatever context
// the helper passes in.
type Options struct {
	state   *renderState
	primary stepFunc
	inverse stepFunc
}

// RenderPrimary renders the block's primary section against newCtx.
func (o *Options) RenderPrimary(newCtx any) (string, error) {
	if o.primary == nil {
		return "", nil
	}
	return o.primary(newCtx, o.state)
}

// RenderInverse renders the block's inverse section against ctx, or
// returns an empty string if the block has no else section.
func (o *Options) RenderInverse(ctx any) (string, error) {
	if o.inverse == nil {
		return "", nil
	}
	return o.inverse(ctx, o.state)
}

// Option configures template compilation.
type Option func(*Template)

// DefaultMaxRenderDepth bounds partial recursion for templates compiled
// without an explicit override.
const DefaultMaxRenderDepth = 100

// WithMaxRenderDepth overrides the partial recursion limit. A partial that
// directly or transitively includes itself fails with a RenderError
// wrapping ErrMaxRenderDepth once this depth is exceeded.
func WithMaxRenderDepth(depth int) Option {
	return func(t *Template) {
		t.maxDepth = depth
	}
}

// Compile tokenizes, parses, and compiles template source in one call.
// The built-in helper set is merged with helpers first; same-name entries
// from helpers replace built-ins unconditionally, including the core
// control-flow helpers.
func Compile(templateID, source string, helpers HelperMap, partials PartialMap, opts ...Option) (*Template, error) {
	tokens, err := Tokenize(templateID, source)
	if err != nil {
		return nil, err
	}
	tree, err := BuildSyntaxTree(templateID, tokens)
	if err != nil {
		return nil, err
	}

	merged := Builtins()
	for name, h := range helpers {
		merged[name] = h
	}
	return NewTemplate(templateID, merged, partials, tree, opts...)
}

// NewTemplate compiles a syntax tree into a Template. The tree is walked
// exactly once; helper and partial names are bound to concrete
// implementations here, so rendering never performs a name lookup.
func NewTemplate(templateID string, helpers HelperMap, partials PartialMap, tree []Node, opts ...Option) (*Template, error) {
	t := &Template{id: templateID, maxDepth: DefaultMaxRenderDepth}
	for _, opt := range opts {
		opt(t)
	}

	render, err := compileNodes(templateID, tree, helpers, partials)
	if err != nil {
		return nil, err
	}
	t.render = render
	return t, nil
}

// ID returns the identifier the template was compiled under.
func (t *Template) ID() string {
	return t.id
}

// Render executes the compiled template against ctx and returns the
// produced output. Rendering is a pure function of the compiled tree, the
// bound helpers and partials, and ctx.
func (t *Template) Render(ctx any) (string, error) {
	return t.render(ctx, &renderState{maxDepth: t.maxDepth})
}

// compileNodes compiles a node list into a single concatenating closure.
func compileNodes(templateID string, nodes []Node, helpers HelperMap, partials PartialMap) (stepFunc, error) {
	steps := make([]stepFunc, 0, len(nodes))
	for _, n := range nodes {
		step, err := compileNode(templateID, n, helpers, partials)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	if len(steps) == 1 {
		return steps[0], nil
	}
	return func(ctx any, st *renderState) (string, error) {
		var b strings.Builder
		for _, step := range steps {
			out, err := step(ctx, st)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		}
		return b.String(), nil
	}, nil
}

func compileNode(templateID string, n Node, helpers HelperMap, partials PartialMap) (stepFunc, error) {
	switch node := n.(type) {
	case *TextNode:
		value := node.Value
		return func(any, *renderState) (string, error) {
			return value, nil
		}, nil

	case *ExpressionNode:
		return compileExpression(templateID, node, helpers)

	case *BlockNode:
		return compileBlock(templateID, node, helpers, partials)

	case *PartialNode:
		return compilePartial(templateID, node, partials)
	}
	return nil, fmt.Errorf("template %s: unsupported node type %T", templateID, n)
}

// compileExpression handles both plain path interpolation and expression
// helper calls. An expression with arguments must name a registered
// helper; a bare expression is a helper call only when its name is
// registered, otherwise it is a context path.
func compileExpression(templateID string, node *ExpressionNode, helpers HelperMap) (stepFunc, error) {
	if helper, ok := helpers[node.Path]; ok {
		name, args := node.Path, node.Args
		return func(ctx any, st *renderState) (string, error) {
			opts := &Options{state: st}
			return invokeHelper(templateID, name, helper, ctx, opts, resolveArgs(ctx, args))
		}, nil
	}
	if len(node.Args) > 0 {
		return nil, &UnknownHelperError{TemplateID: templateID, Helper: node.Path, Pos: node.Pos}
	}

	path, raw := node.Path, node.Raw
	return func(ctx any, _ *renderState) (string, error) {
		value := stringify(resolvePath(ctx, path))
		if raw {
			return value, nil
		}
		return EscapeHTML(value), nil
	}, nil
}

func compileBlock(templateID string, node *BlockNode, helpers HelperMap, partials PartialMap) (stepFunc, error) {
	helper, ok := helpers[node.Name]
	if !ok {
		return nil, &UnknownHelperError{TemplateID: templateID, Helper: node.Name, Pos: node.Pos}
	}

	primary, err := compileNodes(templateID, node.Primary, helpers, partials)
	if err != nil {
		return nil, err
	}
	var inverse stepFunc
	if node.Inverse != nil {
		inverse, err = compileNodes(templateID, node.Inverse, helpers, partials)
		if err != nil {
			return nil, err
		}
	}

	name, args := node.Name, node.Args
	return func(ctx any, st *renderState) (string, error) {
		opts := &Options{state: st, primary: primary, inverse: inverse}
		return invokeHelper(templateID, name, helper, ctx, opts, resolveArgs(ctx, args))
	}, nil
}

func compilePartial(templateID string, node *PartialNode, partials PartialMap) (stepFunc, error) {
	partial, ok := partials[node.Name]
	if !ok {
		return nil, &UnknownPartialError{TemplateID: templateID, Partial: node.Name, Pos: node.Pos}
	}

	name, contextPath := node.Name, node.ContextPath
	return func(ctx any, st *renderState) (string, error) {
		st.depth++
		defer func() { st.depth-- }()
		if st.depth > st.maxDepth {
			return "", &RenderError{TemplateID: templateID,
				Err: fmt.Errorf("partial %q: %w", name, ErrMaxRenderDepth)}
		}
		sub := ctx
		if contextPath != "" {
			sub = resolvePath(ctx, contextPath)
		}
		out, err := partial.render(sub, st)
		if err != nil {
			return "", &RenderError{TemplateID: templateID,
				Err: fmt.Errorf("partial %q: %w", name, err)}
		}
		return out, nil
	}, nil
}

// invokeHelper calls a helper, converting panics and returned errors into
// a RenderError that names the template and helper while preserving the
// cause.
func invokeHelper(templateID, name string, helper Helper, ctx any, opts *Options, args []any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = &RenderError{TemplateID: templateID, Helper: name,
				Err: fmt.Errorf("helper panicked: %v", r)}
		}
	}()

	out, err = helper(ctx, opts, args...)
	if err != nil {
		return "", &RenderError{TemplateID: templateID, Helper: name, Err: err}
	}
	return out, nil
}

func resolveArgs(ctx any, args []Arg) []any {
	if len(args) == 0 {
		return nil
	}
	resolved := make([]any, len(args))
	for i, a := range args {
		resolved[i] = a.resolve(ctx)
	}
	return resolved
}

// resolvePath walks a dotted/bracketed accessor into the context. The
// segments "this" and "." refer to the current value. Missing or invalid
// intermediate segments resolve to nil rather than failing.
func resolvePath(ctx any, path string) any {
	if path == "" || path == "this" || path == "." {
		return ctx
	}
	current := ctx
	for _, seg := range splitPath(path) {
		if seg == "this" {
			continue
		}
		current = lookupSegment(current, seg)
		if current == nil {
			return nil
		}
	}
	return current
}

// splitPath normalizes bracket indexing into dot segments:
// "items[2].name" becomes ["items", "2", "name"].
func splitPath(path string) []string {
	normalized := strings.NewReplacer("[", ".", "]", "").Replace(path)
	parts := strings.Split(normalized, ".")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// lookupSegment resolves one path segment against maps, slices, arrays,
// and exported struct fields, descending through pointers and interfaces.
func lookupSegment(v any, seg string) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		item := rv.MapIndex(reflect.ValueOf(seg))
		if !item.IsValid() {
			return nil
		}
		return item.Interface()
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= rv.Len() {
			return nil
		}
		return rv.Index(idx).Interface()
	case reflect.Struct:
		field := rv.FieldByName(seg)
		if !field.IsValid() || !field.CanInterface() {
			return nil
		}
		return field.Interface()
	default:
		return nil
	}
}

// stringify renders a resolved value as output text. Nil values produce an
// empty string.
func stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
)

// EscapeHTML applies the expression-level escaping policy: the characters
// &, <, > and " are replaced with entity references. Custom helpers that
// interpolate untrusted text into their output should use it too.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
