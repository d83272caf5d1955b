package output

import "github.com/rs/zerolog"

// LogObserver writes every event to a zerolog logger.
type LogObserver struct {
	logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "events").Logger()}
}

func (l *LogObserver) OnData(payload string) {
	l.logger.Info().Str("burst", payload).Msg("pda data")
}

func (l *LogObserver) OnStatus(payload string) {
	l.logger.Info().Msg(payload)
}

func (l *LogObserver) OnFault(payload string) {
	l.logger.Error().Msg(payload)
}
