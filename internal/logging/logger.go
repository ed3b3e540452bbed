// Package logging provides the capture core's structured logger.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger scoped to the given component name,
// following the same shape as the teacher's own logger constructor
// (pkg/logger.New in the reference repo), renamed from "service" to
// "component" since a single run hosts several cooperating components
// rather than one service.
func New(component string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("component", component)
}
