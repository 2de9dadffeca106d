package dagflow

import (
	"io"
	"log/slog"
)

// nopLogger discards all output; it is the default logger when a Builder is
// not configured with WithLogger.
var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
