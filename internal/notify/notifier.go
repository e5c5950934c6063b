// Package notify fans liquidation and risk alerts out to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// Event names accepted by Notify and the events filter.
const (
	EventLiquidationSucceeded = "liquidation_succeeded"
	EventLiquidationFailed    = "liquidation_failed"
	EventAtRisk               = "at_risk"
	EventMonitorError         = "monitor_error"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Severity colours an alert where the channel supports it.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// Alert is what a Sender delivers.
type Alert struct {
	Event    string
	Title    string
	Message  string
	Severity Severity
}

// Notifier dispatches alerts to every sender. Events outside the configured
// set are dropped, and repeats of the same event and title inside the
// cooldown are suppressed.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewNotifier creates a Notifier. An empty events list allows everything.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "notifier")),
		sent:     make(map[string]time.Time),
	}
}

// Notify implements executor.Alerter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	return n.Send(ctx, Alert{Event: event, Title: title, Message: message, Severity: severityOf(event)})
}

// Send delivers a to every sender unless filtered or cooling down.
func (n *Notifier) Send(ctx context.Context, a Alert) error {
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return nil
	}
	if !n.admit(a) {
		n.logger.DebugContext(ctx, "alert suppressed by cooldown", slog.String("event", a.Event))
		return nil
	}
	return n.dispatch(ctx, a)
}

// Emit implements monitor.EventSink for the events worth paging about.
func (n *Notifier) Emit(ctx context.Context, ev domain.MonitorEvent) {
	a, ok := AlertFor(ev)
	if !ok {
		return
	}
	if err := n.Send(ctx, a); err != nil {
		n.logger.WarnContext(ctx, "monitor alert failed", slog.String("error", err.Error()))
	}
}

// AlertFor maps a monitor event to an alert. Routine events map to nothing.
func AlertFor(ev domain.MonitorEvent) (Alert, bool) {
	switch ev.Type {
	case domain.EventAtRisk:
		return Alert{
			Event:    EventAtRisk,
			Title:    "Position at risk",
			Message:  fmt.Sprintf("Position %s health ratio %.4f at price %.6f (round %d)", ev.PositionID, ev.HealthRatio, ev.Price, ev.RoundID),
			Severity: SeverityWarning,
		}, true
	case domain.EventLiquidation:
		if ev.Outcome == string(domain.LiquidationSucceeded) {
			// The executor already alerts on its own outcomes.
			return Alert{}, false
		}
		return Alert{
			Event:    EventMonitorError,
			Title:    "Monitor liquidation did not succeed",
			Message:  fmt.Sprintf("Position %s: %s %s", ev.PositionID, ev.Outcome, ev.Detail),
			Severity: SeverityCritical,
		}, true
	}
	return Alert{}, false
}

func (n *Notifier) admit(a Alert) bool {
	if n.cooldown <= 0 {
		return true
	}
	key := a.Event + "\x00" + a.Title + "\x00" + a.Message
	now := time.Now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.sent[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	for k, at := range n.sent {
		if now.Sub(at) >= n.cooldown {
			delete(n.sent, k)
		}
	}
	n.sent[key] = now
	return true
}

// dispatch tries every sender; one failing sender does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", a.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func severityOf(event string) Severity {
	switch event {
	case EventLiquidationFailed, EventMonitorError:
		return SeverityCritical
	case EventAtRisk:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
