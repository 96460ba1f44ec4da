// Package errors provides the classified error primitives used across the host.
//
// A ClassifiedError carries a category (protocol, transport, lifecycle,
// scheduling, generator, ...), a severity and a retry strategy. The CLI
// adapter maps categories onto the stable process exit codes callers rely on.
//
// Example usage:
//
//	err := errors.SchedulingError("cyclic generator ordering").
//		WithContext("cycle", "A -> B -> A").
//		Build()
package errors
