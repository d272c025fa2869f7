package log

import "github.com/rs/zerolog"

// ZerologAdapter writes protocol events to a zerolog.Logger.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a ZerologAdapter that writes to the given
// zerolog.Logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Log writes the event to the zerolog logger.
func (a *ZerologAdapter) Log(event Event) {
	var ev *zerolog.Event
	switch {
	case event.Error != nil:
		ev = a.logger.Error()
	case event.Drop != nil:
		ev = a.logger.Warn()
	case event.StateChange != nil, event.Subscription != nil:
		ev = a.logger.Info()
	default:
		ev = a.logger.Debug()
	}

	ev = ev.
		Str("conn_id", event.ConnectionID).
		Str("direction", event.Direction.String()).
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String())

	if event.SessionID != "" {
		ev = ev.Str("session_id", event.SessionID)
	}
	if event.RemoteAddr != "" {
		ev = ev.Str("remote", event.RemoteAddr)
	}

	switch {
	case event.Frame != nil:
		ev = ev.Int("frame_size", event.Frame.Size).Str("frame", event.Frame.Text)
		if event.Frame.Truncated {
			ev = ev.Bool("truncated", true)
		}
	case event.StateChange != nil:
		ev = ev.
			Str("old_state", event.StateChange.OldState).
			Str("new_state", event.StateChange.NewState)
		if event.StateChange.Reason != "" {
			ev = ev.Str("reason", event.StateChange.Reason)
		}
	case event.Subscription != nil:
		ev = ev.
			Str("action", event.Subscription.Action).
			Uint32("local_id", event.Subscription.LocalID)
		if event.Subscription.ServerID != 0 {
			ev = ev.Int("server_id", event.Subscription.ServerID)
		}
		if event.Subscription.ItemKey != "" {
			ev = ev.Str("item", event.Subscription.ItemKey)
		}
	case event.Drop != nil:
		ev = ev.
			Uint32("local_id", event.Drop.LocalID).
			Str("item", event.Drop.ItemKey).
			Uint64("dropped", event.Drop.Dropped)
	case event.Error != nil:
		ev = ev.
			Str("error_layer", event.Error.Layer.String()).
			Str("error", event.Error.Message)
		if event.Error.Code != nil {
			ev = ev.Int("code", *event.Error.Code)
		}
	}

	ev.Msg("protocol event")
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZerologAdapter)(nil)
