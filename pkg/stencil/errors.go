package stencil

import (
	"errors"
	"fmt"
)

// ErrMaxRenderDepth is the root cause reported when rendering exceeds the
// configured depth limit, which usually means a partial includes itself.
var ErrMaxRenderDepth = errors.New("render depth limit exceeded")

// Position is a line/column location in template source, both 1-based.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// SyntaxError reports malformed template source: an unterminated tag, a
// mismatched or unclosed block, or a stray else marker. It always carries
// the template ID and the offending source position.
type SyntaxError struct {
	TemplateID string
	Pos        Position
	Msg        string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template %s:%s: %s", e.TemplateID, e.Pos, e.Msg)
}

// UnknownHelperError reports a helper name that is not present in the
// merged helper map. It is raised at compile time, never at render time.
type UnknownHelperError struct {
	TemplateID string
	Helper     string
	Pos        Position
}

func (e *UnknownHelperError) Error() string {
	return fmt.Sprintf("template %s:%s: unknown helper %q", e.TemplateID, e.Pos, e.Helper)
}

// UnknownPartialError reports a partial name that is not present in the
// partial map. It is raised at compile time, never at render time.
type UnknownPartialError struct {
	TemplateID string
	Partial    string
	Pos        Position
}

func (e *UnknownPartialError) Error() string {
	return fmt.Sprintf("template %s:%s: unknown partial %q", e.TemplateID, e.Pos, e.Partial)
}

// RenderError wraps a failure that occurred while rendering: a helper
// returning an error, a helper panicking, or the render depth limit being
// exceeded. The causing error is preserved so failures chain back to their
// root cause via errors.Is and errors.As.
type RenderError struct {
	TemplateID string
	Helper     string // empty unless the failure came from a helper call
	Err        error
}

func (e *RenderError) Error() string {
	if e.Helper != "" {
		return fmt.Sprintf("template %s: helper %q: %v", e.TemplateID, e.Helper, e.Err)
	}
	return fmt.Sprintf("template %s: %v", e.TemplateID, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
