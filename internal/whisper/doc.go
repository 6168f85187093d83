// Package whisper exposes the whisper.cpp C API to the rest of the daemon.
//
// The package contains no logic of its own: when built with the whispercpp
// tag it re-exports the cgo bindings unmodified, so callers reference the
// library's types and constants under their original names. Without the tag
// a declaration-compatible stub is linked instead and every constructor
// fails with ErrUnavailable, keeping a build without the native library an
// explicit configuration rather than a link error.
//
// Building the native variant requires whisper.cpp headers and libraries on
// the include and library search paths (see the upstream bindings for the
// expected CGO flags). A missing header or an unsupported declaration is a
// build-time failure reported by the toolchain; nothing in this package
// executes at runtime.
package whisper
