package diagnostics

import (
	"context"
	"log/slog"

	"agentdesk/internal/logger"
)

// Handler is an slog.Handler that copies records at or above a level into a Ring.
type Handler struct {
	ring   *Ring
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

// NewHandler captures records at level and above. Pass slog.LevelWarn for the usual tee.
func NewHandler(ring *Ring, level slog.Level) *Handler {
	return &Handler{ring: ring, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Timestamp: r.Time.UTC(),
		Type:      typeFor(r.Level),
		Message:   r.Message,
		RequestID: logger.RequestID(ctx),
		Metadata:  map[string]any{},
	}
	add := func(a slog.Attr) {
		a.Value = a.Value.Resolve()
		switch a.Key {
		case "category":
			e.Category = a.Value.String()
		case "request_id":
			e.RequestID = a.Value.String()
		default:
			key := a.Key
			for i := len(h.groups) - 1; i >= 0; i-- {
				key = h.groups[i] + "." + key
			}
			e.Metadata[key] = a.Value.Any()
		}
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})
	if len(e.Metadata) == 0 {
		e.Metadata = nil
	}
	h.ring.Append(e)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func typeFor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return TypeError
	case level >= slog.LevelWarn:
		return TypeWarning
	default:
		return TypeInfo
	}
}
