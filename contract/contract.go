package contract

import (
	"chat-relay/domain/event"
	"context"
	"reflect"
)

// EventSink is one user's live connection as seen by the engine.
// Consume must not block the caller: implementations buffer or drop.
// Close tears the underlying transport down; it must be idempotent.
type EventSink interface {
	Consume(ctx context.Context, e event.ServerEvent) error
	Close() error
}

// IPresence is the in-process online-users table. One sink per user;
// a fresh Register for the same user supersedes the previous sink.
type IPresence interface {
	Register(userID string, sink EventSink) (prev EventSink)
	Lookup(userID string) (EventSink, bool)
	Deregister(userID string, sink EventSink) bool
	Others(userID string) []EventSink
	Count() int
}

type WorkerName string

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision, avoiding manual naming in the
// Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
