// Package progress carries run progress from the backup worker to whatever
// presents it. Publishing never blocks the worker.
package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/logger"
)

// Event is a point-in-time view of a run. TargetsDone counts folders whose
// uploads have all finished.
type Event struct {
	RunID         string
	Status        backup.Status
	Totals        backup.Totals
	CurrentTarget string
	TargetsDone   int
	TargetsTotal  int
	CurrentFile   string
	Err           string
	At            time.Time
}

// Sink consumes progress events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Channel buffers events for a consumer on another goroutine. When the
// buffer is full the event is dropped and counted.
type Channel struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannel returns a Channel with the given buffer size.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan Event, size)}
}

func (c *Channel) Publish(e Event) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events is the receive side.
func (c *Channel) Events() <-chan Event { return c.ch }

// Dropped reports how many events were discarded.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

// LogSink writes status transitions and folder changes at info level and
// per-file progress at debug level.
type LogSink struct {
	log        logger.Logger
	last       atomic.Value // backup.Status
	lastTarget atomic.Value // string
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(e Event) {
	prev, _ := s.last.Swap(e.Status).(backup.Status)
	prevTarget, _ := s.lastTarget.Swap(e.CurrentTarget).(string)
	kv := []any{
		"run", e.RunID,
		"status", e.Status,
		"scanned", e.Totals.Scanned,
		"uploaded", e.Totals.Uploaded,
		"skipped", e.Totals.Skipped,
		"failed", e.Totals.Failed,
		"folders", fmt.Sprintf("%d/%d", e.TargetsDone, e.TargetsTotal),
	}
	switch {
	case e.Status == backup.StatusFailed:
		s.log.Error("backup run failed", append(kv, "error", e.Err)...)
	case prev != e.Status:
		s.log.Info("backup run "+string(e.Status), kv...)
	case e.CurrentTarget != "" && prevTarget != e.CurrentTarget:
		s.log.Info("backing up folder", append(kv, "folder", e.CurrentTarget)...)
	case e.CurrentFile != "":
		s.log.Debug("backup progress", append(kv, "file", e.CurrentFile)...)
	}
}
