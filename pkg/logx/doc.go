// Package logx provides the project-wide structured logger.
//
// It wraps zerolog behind a small Field-based API so call sites stay
// stable if the backend changes. Sinks (console, file) are picked by
// config at startup.
package logx
