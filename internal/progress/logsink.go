package progress

import (
	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/logging"
)

// LogSink mirrors sink calls into the structured log. Percentages are
// logged at debug level and only when they change by 10 points or more.
type LogSink struct {
	Logger *zap.Logger

	lastPct int
}

// NewLogSink returns a sink writing to the global logger.
func NewLogSink() *LogSink {
	return &LogSink{Logger: logging.L(), lastPct: -100}
}

func (s *LogSink) logger() *zap.Logger {
	if s.Logger == nil {
		return logging.L()
	}
	return s.Logger
}

func (s *LogSink) Status(text string) {
	s.logger().Info("status", zap.String("status", text))
}

func (s *LogSink) Percent(pct int) {
	pct = Clamp(pct)
	if pct == 100 || pct < s.lastPct || pct-s.lastPct >= 10 {
		s.lastPct = pct
		s.logger().Debug("progress", zap.Int("percent", pct))
	}
}

func (s *LogSink) Indeterminate(on bool) {
	s.logger().Debug("progress mode", zap.Bool("indeterminate", on))
}

func (s *LogSink) Log(line string) {
	s.logger().Info(line)
}

func (s *LogSink) Pump() {}
