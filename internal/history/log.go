package history

import (
	"context"
	"log/slog"
)

const previewLen = 120

// logEntry logs an entry event at INFO (id, kind, size) and a content preview
// at DEBUG.
func logEntry(event string, e Entry) {
	slog.Info(event, "id", e.id.Short(), "kind", e.Kind(), "size_bytes", Size(e.payload))

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("history entry", "id", e.id.Short(), "preview", Preview(e.payload, previewLen))
}
