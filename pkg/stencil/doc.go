/*
Package stencil implements a small mustache-style template language that
compiles markup source into reusable render functions.

Compilation runs in three stages: Tokenize scans the source into a flat
token list, BuildSyntaxTree folds the tokens into an immutable node tree
while enforcing block nesting, and NewTemplate walks the tree once to
produce nested render closures. Helper and partial names are resolved at
compile time, so an unknown name fails the compile rather than a render.

Block helpers receive an Options value exposing RenderPrimary and
RenderInverse, and alone decide which section to render and against what
context. The built-in helper set (each, if, unless, ifEqual, with,
unescape, plusOne) can be extended or overridden through the helper map
passed to Compile.

A compiled Template is immutable and safe for concurrent rendering. The
package also provides a Manager for loading template and partial files
from a directory, in the same hot-reloadable style as the rest of the
toolkit.
*/
package stencil
