package stencil

import (
	"math"
	"reflect"
	"strconv"
)

// Builtins returns a fresh copy of the built-in helper set. Callers may
// add to or replace any entry in the returned map without affecting other
// templates.
func Builtins() HelperMap {
	return HelperMap{
		"each":     eachHelper,
		"if":       ifHelper,
		"unless":   unlessHelper,
		"ifEqual":  ifEqualHelper,
		"with":     withHelper,
		"unescape": unescapeHelper,
		"plusOne":  plusOneHelper,
	}
}

// eachHelper renders the primary section once per element of an ordered
// sequence, with the element as the active scope. An empty or non-iterable
// argument renders the inverse section against the outer context.
func eachHelper(ctx any, opts *Options, args ...any) (string, error) {
	if len(args) == 0 {
		return opts.RenderInverse(ctx)
	}
	items, ok := sequenceOf(args[0])
	if !ok || len(items) == 0 {
		return opts.RenderInverse(ctx)
	}

	var out string
	for i, item := range items {
		part, err := opts.RenderPrimary(elementScope(item, i))
		if err != nil {
			return "", err
		}
		out += part
	}
	return out, nil
}

// elementScope builds the per-element context for each. Keyed elements are
// shallow-copied with the iteration index exposed as @index; all other
// elements become the context directly, reachable as {{this}}.
func elementScope(item any, index int) any {
	if keyed, ok := stringKeyedMap(item); ok {
		scope := make(map[string]any, len(keyed)+1)
		for k, v := range keyed {
			scope[k] = v
		}
		scope["@index"] = index
		return scope
	}
	return item
}

// ifHelper renders the primary section for a truthy argument, the inverse
// section otherwise.
func ifHelper(ctx any, opts *Options, args ...any) (string, error) {
	if len(args) > 0 && isTruthy(args[0]) {
		return opts.RenderPrimary(ctx)
	}
	return opts.RenderInverse(ctx)
}

// unlessHelper is the exact complement of if.
func unlessHelper(ctx any, opts *Options, args ...any) (string, error) {
	if len(args) > 0 && isTruthy(args[0]) {
		return opts.RenderInverse(ctx)
	}
	return opts.RenderPrimary(ctx)
}

// ifEqualHelper compares its two arguments with strict (deep) equality; no
// type coercion is performed, so 4 and "4" are not equal.
func ifEqualHelper(ctx any, opts *Options, args ...any) (string, error) {
	if len(args) >= 2 && reflect.DeepEqual(args[0], args[1]) {
		return opts.RenderPrimary(ctx)
	}
	return opts.RenderInverse(ctx)
}

// withHelper rescopes the primary section. A keyed-record argument is
// overlaid onto the outer context one level deep, the argument winning on
// key collisions; any other truthy argument replaces the context entirely.
// Falsy or empty arguments render the inverse section instead.
func withHelper(ctx any, opts *Options, args ...any) (string, error) {
	if len(args) == 0 || !isTruthy(args[0]) {
		return opts.RenderInverse(ctx)
	}

	arg := args[0]
	keyed, ok := stringKeyedMap(arg)
	if !ok {
		return opts.RenderPrimary(arg)
	}

	scope := make(map[string]any, len(keyed))
	if outer, ok := stringKeyedMap(ctx); ok {
		for k, v := range outer {
			scope[k] = v
		}
	}
	for k, v := range keyed {
		scope[k] = v
	}
	return opts.RenderPrimary(scope)
}

// unescapeHelper passes its argument through verbatim, bypassing the
// expression-level escaping policy.
func unescapeHelper(_ any, _ *Options, args ...any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	return stringify(args[0]), nil
}

// plusOneHelper increments a numeric (or numeric-string) argument by one
// and returns it as an escaped string. Non-numeric input yields an empty
// string.
func plusOneHelper(_ any, _ *Options, args ...any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	f, ok := toFloat(args[0])
	if !ok {
		return "", nil
	}
	f++
	if f == math.Trunc(f) {
		return EscapeHTML(strconv.FormatInt(int64(f), 10)), nil
	}
	return EscapeHTML(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// sequenceOf flattens slices and arrays into []any. Strings and all other
// values are not sequences.
func sequenceOf(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// stringKeyedMap converts any string-keyed map into map[string]any.
func stringKeyedMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, true
}

// isTruthy reports whether a value selects the primary section: nil,
// false, numeric zero, empty strings, and empty collections are falsy.
func isTruthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return isTruthy(rv.Elem().Interface())
	default:
		return true
	}
}

// toFloat widens numeric values and parses numeric strings.
func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case string:
		f, err := strconv.ParseFloat(value, 64)
		return f, err == nil
	case float64:
		return value, true
	case float32:
		return float64(value), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}
