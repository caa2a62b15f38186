package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes each event to a zap logger. It is the fallback when no
// bus is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.logger.Info("notification",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Int64("subject_id", event.SubjectID),
		zap.Any("payload", event.Payload),
	)
	return nil
}
