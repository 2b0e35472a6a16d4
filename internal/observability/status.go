package observability

import (
	"sort"
	"sync"
	"time"
)

type Phase string

const (
	PhaseCrawling  Phase = "CRAWLING"
	PhaseAnalyzing Phase = "ANALYZING"
	PhaseDone      Phase = "DONE"
	PhaseFailed    Phase = "FAILED"
)

// SessionStatus is a point-in-time view of one audit session.
type SessionStatus struct {
	ID        string    `json:"id"`
	StoreURL  string    `json:"storeUrl"`
	Phase     Phase     `json:"phase"`
	Step      string    `json:"step,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tracker keeps the status of running and recently finished sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*SessionStatus
	keep     int
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*SessionStatus), keep: 50}
}

var globalTracker = NewTracker()

// DefaultTracker returns the process-wide tracker.
func DefaultTracker() *Tracker {
	return globalTracker
}

func (t *Tracker) Start(id, storeURL string) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[id] = &SessionStatus{
		ID:        id,
		StoreURL:  storeURL,
		Phase:     PhaseCrawling,
		StartedAt: now,
		UpdatedAt: now,
	}
	t.evict()
}

// Update moves a session to phase and step. Unknown ids are ignored.
func (t *Tracker) Update(id string, phase Phase, step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return
	}
	s.Phase = phase
	if step != "" {
		s.Step = step
	}
	s.UpdatedAt = time.Now()
}

// Snapshot returns copies of all tracked sessions, newest first.
func (t *Tracker) Snapshot() []SessionStatus {
	t.mu.RLock()
	out := make([]SessionStatus, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// evict drops the oldest finished sessions beyond the retention limit.
// Caller holds mu.
func (t *Tracker) evict() {
	if len(t.sessions) <= t.keep {
		return
	}
	var oldest *SessionStatus
	for _, s := range t.sessions {
		if s.Phase != PhaseDone && s.Phase != PhaseFailed {
			continue
		}
		if oldest == nil || s.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(t.sessions, oldest.ID)
	}
}
