package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rahul/storescout/internal/analysis"
	"github.com/rahul/storescout/internal/crawl"
	"github.com/rahul/storescout/internal/session"
	"github.com/rahul/storescout/internal/storefront"
)

const chatHelp = "Send me a store URL (for example https://shop.example.com) and I'll walk through it like a shopper and report what I find."

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+|\b(?:[a-z0-9-]+\.)+[a-z]{2,}(?:/[^\s<>"']*)?`)

// ExtractURL returns the first URL-like token in a chat message.
func ExtractURL(text string) string {
	return strings.TrimRight(urlPattern.FindString(text), ".,;:!?)")
}

// Outbox is the sending half of a Messenger.
type Outbox interface {
	Send(chatID string, text string) error
	SendImage(chatID string, png []byte, caption string) error
}

// ChatRunner turns chat messages into audit sessions.
type ChatRunner struct {
	auditor   Auditor
	admission Admission
	logger    *zap.Logger
	slots     chan struct{}
}

func NewChatRunner(auditor Auditor, admission Admission, maxSessions int, logger *zap.Logger) *ChatRunner {
	if maxSessions <= 0 {
		maxSessions = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatRunner{
		auditor:   auditor,
		admission: admission,
		logger:    logger,
		slots:     make(chan struct{}, maxSessions),
	}
}

// Handle audits the store named in text and reports back to chatID. It
// blocks until the session finishes.
func (r *ChatRunner) Handle(ctx context.Context, out Outbox, source, chatID, text string) {
	log := r.logger.With(zap.String("source", source), zap.String("chat", chatID))

	raw := ExtractURL(text)
	if raw == "" {
		r.send(log, out, chatID, chatHelp)
		return
	}

	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	default:
		r.send(log, out, chatID, "I'm busy auditing other stores right now. Try again in a few minutes.")
		return
	}

	r.send(log, out, chatID, "Checking "+raw+" ...")
	v, err := r.admission.Admit(ctx, raw, source, chatID)
	if err != nil {
		r.send(log, out, chatID, admissionMessage(err))
		return
	}

	name := v.StoreName
	if name == "" {
		name = v.URL
	}
	r.send(log, out, chatID, fmt.Sprintf("Auditing %s. This takes a few minutes.", name))

	progress := session.NewProgress()
	sink := newChatSink(out, chatID, log)
	_, runErr := r.auditor.Run(ctx, v.URL, session.Multi(progress, sink))
	sink.close()

	if runErr != nil {
		log.Warn("session failed", zap.String("store", v.URL), zap.Error(runErr))
	}
	r.send(log, out, chatID, FormatSummary(progress.Snapshot()))
}

func (r *ChatRunner) send(log *zap.Logger, out Outbox, chatID, text string) {
	if err := out.Send(chatID, text); err != nil {
		log.Warn("failed to send chat message", zap.Error(err))
	}
}

func admissionMessage(err error) string {
	switch {
	case errors.Is(err, storefront.ErrInvalidURL):
		return "That doesn't look like a valid URL."
	case errors.Is(err, storefront.ErrNotStorefront):
		return "That doesn't appear to be a Shopify store, so I can't audit it."
	case errors.Is(err, ErrDenied):
		return "Sorry, " + err.Error()
	default:
		return "Couldn't check that store: " + err.Error()
	}
}

// FormatSummary renders the end of a session for chat and terminal output.
func FormatSummary(snap session.Snapshot) string {
	if snap.Report == nil {
		msg := "Audit finished without a report."
		if snap.Error != "" {
			msg += " " + snap.Error
		}
		if n := len(snap.Commentaries); n > 0 {
			msg += fmt.Sprintf(" %d stage notes were collected.", n)
		}
		return msg
	}

	rep := snap.Report
	var b strings.Builder
	fmt.Fprintf(&b, "%s scored %d/100 (%s)\n", rep.StoreName, rep.OverallScore, analysis.Band(rep.OverallScore))
	for _, cs := range rep.Categories {
		fmt.Fprintf(&b, "  %s: %d\n", cs.Label, cs.Score)
	}
	if len(rep.QuickWins) > 0 {
		b.WriteString("\nQuick wins:\n")
		for i, w := range rep.QuickWins {
			fmt.Fprintf(&b, "%d. %s", i+1, w.Title)
			if w.Fix != "" {
				fmt.Fprintf(&b, ": %s", w.Fix)
			}
			b.WriteString("\n")
		}
	}
	if rep.ShopperNarrative != "" {
		b.WriteString("\n" + rep.ShopperNarrative)
	}
	return strings.TrimRight(b.String(), "\n")
}

// chatSink relays session events to a chat from its own goroutine. When the
// chat falls behind by a full queue, further messages are dropped so the
// session is never held up.
type chatSink struct {
	out    Outbox
	chatID string
	log    *zap.Logger

	queue   chan func() error
	wg      sync.WaitGroup
	shown   map[crawl.StepName]bool
	dropped int
}

func newChatSink(out Outbox, chatID string, log *zap.Logger) *chatSink {
	s := &chatSink{
		out:    out,
		chatID: chatID,
		log:    log,
		queue:  make(chan func() error, 64),
		shown:  make(map[crawl.StepName]bool),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for send := range s.queue {
			if err := send(); err != nil {
				s.log.Warn("failed to relay event", zap.Error(err))
			}
		}
	}()
	return s
}

// Emit is called serially by the coordinator.
func (s *chatSink) Emit(ev session.Event) {
	switch d := ev.Data.(type) {
	case session.StepStartData:
		text := fmt.Sprintf("[%d/%d] %s", d.Step.Index()+1, len(crawl.Steps()), d.Label)
		s.text(text)
	case session.ScreenshotData:
		if s.shown[d.Step] {
			return
		}
		png, err := base64.StdEncoding.DecodeString(d.Screenshot)
		if err != nil {
			return
		}
		caption := string(d.Step)
		if def, ok := crawl.Definition(d.Step); ok {
			caption = def.Label
		}
		if s.enqueue(func() error { return s.out.SendImage(s.chatID, png, caption) }) {
			s.shown[d.Step] = true
		}
	case analysis.Commentary:
		if d.Narrative == "" {
			return
		}
		label := string(d.Step)
		if def, ok := crawl.Definition(d.Step); ok {
			label = def.Label
		}
		s.text(label + ": " + d.Narrative)
	case session.ErrorData:
		if d.Step != "" {
			s.text(fmt.Sprintf("Problem at %s: %s", d.Step, d.Message))
		} else {
			s.text("Error: " + d.Message)
		}
	}
}

func (s *chatSink) text(msg string) {
	s.enqueue(func() error { return s.out.Send(s.chatID, msg) })
}

func (s *chatSink) enqueue(send func() error) bool {
	select {
	case s.queue <- send:
		return true
	default:
		s.dropped++
		s.log.Debug("chat queue full, dropping message", zap.Int("dropped", s.dropped))
		return false
	}
}

// close drains pending messages.
func (s *chatSink) close() {
	close(s.queue)
	s.wg.Wait()
}
