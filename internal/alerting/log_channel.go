package alerting

import "github.com/ipsix/coresum/internal/logging"

type LogChannel struct {
	logger *logging.Logger
}

func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(alert Alert) error {
	files := make([]string, 0, len(alert.Discrepancies))
	for _, d := range alert.Discrepancies {
		files = append(files, d.Path)
	}
	l.logger.Warn("alert",
		logging.Field{Key: "id", Value: alert.ID},
		logging.Field{Key: "severity", Value: alert.Severity},
		logging.Field{Key: "target", Value: alert.Target},
		logging.Field{Key: "run_id", Value: alert.RunID},
		logging.Field{Key: "reason", Value: alert.Reason},
		logging.Field{Key: "files", Value: files},
	)
	return nil
}
