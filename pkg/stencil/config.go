package stencil

// Config holds the safety limits for the templating engine.
type Config struct {
	// MaxRenderDepth bounds partial recursion per render call. A partial
	// chain deeper than this fails with a RenderError instead of
	// exhausting the call stack.
	MaxRenderDepth int

	// MaxSourceSize caps the byte length of template source accepted for
	// ad-hoc compilation (previews and API uploads).
	MaxSourceSize int
}

// DefaultConfig returns a Config with safe default values.
func DefaultConfig() Config {
	return Config{
		MaxRenderDepth: DefaultMaxRenderDepth,
		MaxSourceSize:  1048576, // 1MB
	}
}
