package surveillance

import (
	"context"
	"log/slog"

	"vigil/internal/audit"
)

func discardTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func flushTrail(trail *audit.Logger) {
	trail.Flush(context.Background())
}
