package vbdlis

import "log/slog"

// Sink receives human-readable progress strings and session-expiry events.
// Calls are fire-and-forget: implementations must not block, and failures
// are not reported back.
type Sink interface {
	// Status delivers a progress message ("re-authenticating", "cache hit").
	Status(msg string)
	// SessionExpired signals that automatic re-login for the given session
	// key is exhausted and the end user must supply fresh credentials.
	SessionExpired(sessionKey string)
}

// CallbackSink adapts plain functions to Sink. Nil fields are no-ops.
type CallbackSink struct {
	OnStatus         func(msg string)
	OnSessionExpired func(sessionKey string)
}

func (c CallbackSink) Status(msg string) {
	if c.OnStatus != nil {
		c.OnStatus(msg)
	}
}

func (c CallbackSink) SessionExpired(sessionKey string) {
	if c.OnSessionExpired != nil {
		c.OnSessionExpired(sessionKey)
	}
}

// slogSink is the default sink: progress at info, expiry at warn.
type slogSink struct {
	logger *slog.Logger
}

func (s slogSink) Status(msg string) {
	s.logger.Info("vbdlis: status", "msg", msg)
}

func (s slogSink) SessionExpired(sessionKey string) {
	s.logger.Warn("vbdlis: session expired", "key", sessionKey)
}
