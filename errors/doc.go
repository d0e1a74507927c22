// Package errors provides structured error types for the style bridge.
//
// Errors are categorized by Phase (which operation was running) and Kind
// (error category). The Error type carries the source ID involved, a
// human-readable detail and an optional cause.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAttach, errors.KindConflict).
//		Source("terrain").
//		Detail("style already holds a source with this id").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AlreadyAttached("terrain")
//	err := errors.NotAttached("terrain", "source belongs to another style")
//
// All errors implement the standard error interface and support errors.Is/As.
// Use IsKind to test the category regardless of phase:
//
//	if errors.IsKind(err, errors.KindConflict) { ... }
package errors
