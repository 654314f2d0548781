// Package observability provides metrics, tracing and websocket lifecycle logging.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
	logger  *slog.Logger
}

// NewWSLogger creates a WSLogger for the given hub writing through logger.
// A nil logger falls back to a JSON handler on stdout.
func NewWSLogger(hubName string, logger *slog.Logger) *WSLogger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return &WSLogger{hubName: hubName, logger: logger}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID uint, connID string) {
	l.logger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("conn_id", connID),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID uint, connID string, wentOffline bool) {
	l.logger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("conn_id", connID),
		slog.Bool("went_offline", wentOffline),
	)
}

// LogError logs a failed inbound event. The error is reported to the originating connection separately.
func (l *WSLogger) LogError(ctx context.Context, userID uint, chatID uint, err error, eventType string) {
	l.logger.WarnContext(ctx, "websocket event failed",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.Uint64("chat_id", uint64(chatID)),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogLifecycle logs a hub lifecycle event such as wiring or shutdown.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, attrs ...any) {
	l.logger.InfoContext(ctx, "websocket lifecycle",
		append([]any{slog.String("hub", l.hubName), slog.String("event", event)}, attrs...)...)
}
