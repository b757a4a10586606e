package writer

import (
	"log/slog"

	"github.com/stacklok/record-sync/internal/config"
	"github.com/stacklok/record-sync/internal/store"
)

// NewTarget returns target unchanged, or wrapped in an EventTarget logging to
// logger when the target configuration enables events.
func NewTarget(cfg *config.Config, target store.Target, logger *slog.Logger) store.Target {
	if !cfg.Target.EmitEvents {
		return target
	}
	return NewEventTarget(target, NewLogSink(logger), cfg.GetName())
}
