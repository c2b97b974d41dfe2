package server

import "log/slog"

// EventHook receives lifecycle events such as a token being generated or
// refreshed. Hooks are best-effort observers.
type EventHook func(entity, event string, attrs ...any)

// EventReporter fans lifecycle events out to registered hooks. Hook panics
// are recovered and logged; a broken observer must never break the primary
// response.
type EventReporter struct {
	logger *slog.Logger
	hooks  []EventHook
}

// NewEventReporter builds a reporter with no hooks registered.
func NewEventReporter(logger *slog.Logger) *EventReporter {
	return &EventReporter{logger: logger}
}

// AddHook registers an observer. Not safe to call after serving starts.
func (er *EventReporter) AddHook(h EventHook) {
	er.hooks = append(er.hooks, h)
}

// Report logs the event and notifies hooks.
func (er *EventReporter) Report(entity, event string, attrs ...any) {
	er.logger.Debug("event", append([]any{"entity", entity, "name", event}, attrs...)...)
	for _, h := range er.hooks {
		er.dispatch(h, entity, event, attrs...)
	}
}

func (er *EventReporter) dispatch(h EventHook, entity, event string, attrs ...any) {
	defer func() {
		if r := recover(); r != nil {
			er.logger.Warn("event hook panic", "entity", entity, "name", event, "error", r)
		}
	}()
	h(entity, event, attrs...)
}
