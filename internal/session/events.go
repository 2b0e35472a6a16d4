// Package session runs audit sessions end to end and streams their progress
// as events.
package session

import (
	"sync"

	"github.com/rahul/storescout/internal/analysis"
	"github.com/rahul/storescout/internal/crawl"
)

type EventType string

const (
	EventStepStart  EventType = "step_start"
	EventScreenshot EventType = "screenshot"
	EventCommentary EventType = "commentary"
	EventReport     EventType = "report"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Event is one entry of a session's stream. Data holds one of the *Data
// types below, an analysis.Commentary or an analysis.Report.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type StepStartData struct {
	Step        crawl.StepName `json:"step"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
}

type ScreenshotData struct {
	Step       crawl.StepName `json:"step"`
	Screenshot string         `json:"screenshot"` // base64 PNG
	URL        string         `json:"url"`
	Index      int            `json:"index"`
}

// ErrorData carries a Step for stage-level errors and none for
// session-level ones.
type ErrorData struct {
	Message string         `json:"message"`
	Step    crawl.StepName `json:"step,omitempty"`
}

type DoneData struct {
	TotalTime int64 `json:"totalTime"` // milliseconds
}

func stepStartEvent(def crawl.StepDefinition) Event {
	return Event{Type: EventStepStart, Data: StepStartData{Step: def.Name, Label: def.Label, Description: def.Description}}
}

func screenshotEvent(step crawl.StepName, shot, url string, index int) Event {
	return Event{Type: EventScreenshot, Data: ScreenshotData{Step: step, Screenshot: shot, URL: url, Index: index}}
}

func commentaryEvent(c analysis.Commentary) Event {
	return Event{Type: EventCommentary, Data: c}
}

func reportEvent(r analysis.Report) Event {
	return Event{Type: EventReport, Data: r}
}

func errorEvent(msg string, step crawl.StepName) Event {
	return Event{Type: EventError, Data: ErrorData{Message: msg, Step: step}}
}

func doneEvent(totalMillis int64) Event {
	return Event{Type: EventDone, Data: DoneData{TotalTime: totalMillis}}
}

// Sink consumes a session's events. The coordinator serializes calls, so
// implementations need no locking of their own.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Multi fans every event out to each sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ev Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(ev)
			}
		}
	})
}

// serialSink guards a sink against the concurrent emitters of a session and
// drops anything emitted after done.
type serialSink struct {
	mu     sync.Mutex
	next   Sink
	closed bool
}

func (s *serialSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.next == nil {
		return
	}
	s.next.Emit(ev)
	if ev.Type == EventDone {
		s.closed = true
	}
}
