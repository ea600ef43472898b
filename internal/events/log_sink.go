package events

import (
	"github.com/rs/zerolog"
)

const maxReplyChars = 70

// LogSink renders events as zerolog lines. It is the console presentation of a run.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink wraps a logger.
func NewLogSink(log zerolog.Logger) *LogSink { return &LogSink{log: log} }

// Emit logs one event at a level matching its outcome.
func (s *LogSink) Emit(ev Event) {
	var e *zerolog.Event
	switch ev.Kind {
	case AttemptFailed, ExchangeFailed, Forbidden, ProxyFailover:
		e = s.log.Warn()
	case AttemptSucceeded, ProxyProbed, StatsObserved:
		e = s.log.Debug()
	case AccountFinished:
		if ev.OK {
			e = s.log.Info()
		} else {
			e = s.log.Error()
		}
	default:
		e = s.log.Info()
	}
	if ev.Account != "" {
		e = e.Str("account", ShortAddress(ev.Account))
	}
	if ev.Label != "" {
		e = e.Str("label", ev.Label)
	}
	if ev.Max > 0 {
		e = e.Int("attempt", ev.Attempt).Int("max", ev.Max)
	}
	if ev.Class != "" {
		e = e.Str("class", ev.Class)
	}
	if ev.Elapsed > 0 {
		e = e.Dur("elapsed", ev.Elapsed)
	}
	if ev.Proxy != "" {
		e = e.Str("proxy", ev.Proxy)
	}
	if ev.Index > 0 {
		e = e.Int("index", ev.Index)
	}
	if ev.Count > 0 || ev.Kind == AccountFinished || ev.Kind == RunFinished {
		e = e.Int("count", ev.Count)
	}
	if ev.Message != "" {
		e = e.Str("message", ev.Message)
	}
	if ev.Reply != "" {
		e = e.Str("reply", truncate(ev.Reply, maxReplyChars))
	}
	if ev.Stats != nil {
		e = e.Int("daily", ev.Stats.Daily).Int("limit", ev.Stats.Limit).
			Int("total", ev.Stats.Total).Float64("points", ev.Stats.Points)
	}
	if ev.Kind == RunFinished {
		e = e.Int("success", ev.Success).Int("failed", ev.Failed)
	}
	if ev.Err != "" {
		e = e.Str("error", ev.Err)
	}
	e.Msg(string(ev.Kind))
}

// ShortAddress abbreviates a base58 address to its first 6 and last 4 characters.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
