package snapfs

import "snapfs/internal/base"

// Logger interface matches the implementation of slog.
// See the logger submodule for adapter implementations for common
// logger libraries.
type Logger = base.Logger

// DiscardLogger is the default logger that compiles to a no-op.
type DiscardLogger = base.DiscardLogger
