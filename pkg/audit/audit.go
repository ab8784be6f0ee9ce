// pkg/audit/audit.go
package audit

import (
	"context"

	"go.uber.org/zap"
)

// Well-known audit event names.
const (
	EventRoleTransition   = "role_transition"
	EventSecurityEvent    = "security_event"
	EventAuthFallback     = "auth_fallback"
	EventCredentialPurged = "credential_purged"
)

// Sink receives named security events with a key-value payload. It is a
// mandatory collaborator: constructors across the client reject a nil Sink so
// audit trails cannot silently vanish.
type Sink interface {
	Emit(ctx context.Context, event string, fields map[string]any)
}

type zapSink struct {
	log *zap.SugaredLogger
}

// NewZapSink adapts a sugared zap logger into a Sink. Events land as warn
// level records keyed by "audit".
func NewZapSink(log *zap.SugaredLogger) Sink {
	return &zapSink{log: log}
}

func (s *zapSink) Emit(_ context.Context, event string, fields map[string]any) {
	kv := make([]any, 0, 2+len(fields)*2)
	kv = append(kv, "audit", event)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	s.log.Warnw("audit", kv...)
}

// Recorder captures events in memory. Test helper.
type Recorder struct {
	Events []RecordedEvent
}

type RecordedEvent struct {
	Name   string
	Fields map[string]any
}

func (r *Recorder) Emit(_ context.Context, event string, fields map[string]any) {
	r.Events = append(r.Events, RecordedEvent{Name: event, Fields: fields})
}

// Has reports whether an event with the given name was emitted.
func (r *Recorder) Has(name string) bool {
	for _, e := range r.Events {
		if e.Name == name {
			return true
		}
	}
	return false
}
