package session

import (
	"sync"
	"time"

	"github.com/rahul/storescout/internal/analysis"
	"github.com/rahul/storescout/internal/crawl"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusCrawling  Status = "crawling"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// Progress folds a session's event stream into the state a viewer shows.
// The session is treated as analyzing once the final stage's commentary
// arrives. It is safe for concurrent use and can be used directly as a Sink.
type Progress struct {
	mu sync.RWMutex

	status       Status
	currentStep  crawl.StepName
	label        string
	description  string
	screenshots  []ScreenshotData
	commentaries map[crawl.StepName]analysis.Commentary
	report       *analysis.Report
	err          string
	stepErrors   map[crawl.StepName]string
	totalTime    time.Duration
	done         bool
}

func NewProgress() *Progress {
	return &Progress{
		status:       StatusIdle,
		commentaries: make(map[crawl.StepName]analysis.Commentary),
		stepErrors:   make(map[crawl.StepName]string),
	}
}

// Snapshot is a copy of the folded state.
type Snapshot struct {
	Status       Status                                 `json:"status"`
	CurrentStep  crawl.StepName                         `json:"currentStep,omitempty"`
	Label        string                                 `json:"currentStepLabel,omitempty"`
	Description  string                                 `json:"currentStepDescription,omitempty"`
	Screenshots  []ScreenshotData                       `json:"screenshots"`
	Commentaries map[crawl.StepName]analysis.Commentary `json:"commentaries"`
	Report       *analysis.Report                       `json:"report,omitempty"`
	Error        string                                 `json:"error,omitempty"`
	StepErrors   map[crawl.StepName]string              `json:"stepErrors,omitempty"`
	TotalTime    time.Duration                          `json:"totalTime"`
	Done         bool                                   `json:"done"`
}

// EvidenceOnly reports a session that finished without a report.
func (s Snapshot) EvidenceOnly() bool {
	return s.Done && s.Report == nil
}

func (p *Progress) Emit(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case EventStepStart:
		d, ok := ev.Data.(StepStartData)
		if !ok {
			return
		}
		p.status = StatusCrawling
		p.currentStep = d.Step
		p.label = d.Label
		p.description = d.Description
	case EventScreenshot:
		if d, ok := ev.Data.(ScreenshotData); ok {
			p.screenshots = append(p.screenshots, d)
		}
	case EventCommentary:
		c, ok := ev.Data.(analysis.Commentary)
		if !ok {
			return
		}
		p.commentaries[c.Step] = c
		if c.Step == crawl.StepCart {
			p.status = StatusAnalyzing
		}
	case EventReport:
		if r, ok := ev.Data.(analysis.Report); ok {
			p.report = &r
			p.status = StatusComplete
		}
	case EventError:
		d, ok := ev.Data.(ErrorData)
		if !ok {
			return
		}
		p.err = d.Message
		if d.Step != "" {
			p.stepErrors[d.Step] = d.Message
		} else {
			p.status = StatusError
		}
	case EventDone:
		if d, ok := ev.Data.(DoneData); ok {
			p.totalTime = time.Duration(d.TotalTime) * time.Millisecond
		}
		p.done = true
		if p.report != nil {
			p.status = StatusComplete
		}
	}
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	coms := make(map[crawl.StepName]analysis.Commentary, len(p.commentaries))
	for k, v := range p.commentaries {
		coms[k] = v
	}
	errs := make(map[crawl.StepName]string, len(p.stepErrors))
	for k, v := range p.stepErrors {
		errs[k] = v
	}
	return Snapshot{
		Status:       p.status,
		CurrentStep:  p.currentStep,
		Label:        p.label,
		Description:  p.description,
		Screenshots:  append([]ScreenshotData(nil), p.screenshots...),
		Commentaries: coms,
		Report:       p.report,
		Error:        p.err,
		StepErrors:   errs,
		TotalTime:    p.totalTime,
		Done:         p.done,
	}
}
