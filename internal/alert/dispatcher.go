package alert

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/remeh/sizedwaitgroup"
)

// DefaultConcurrency bounds in-flight webhook deliveries.
const DefaultConcurrency = 4

// Dispatcher fans out alert events to matching webhook targets.
type Dispatcher struct {
	targets []Target
	slots   sizedwaitgroup.SizedWaitGroup
	pending sync.WaitGroup
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher from webhook targets.
// Returns nil if targets is empty (callers should nil-check).
func NewDispatcher(targets []Target, logger *slog.Logger) *Dispatcher {
	if len(targets) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		targets: targets,
		slots:   sizedwaitgroup.New(DefaultConcurrency),
		logger:  logger,
	}
}

// Dispatch sends the event to all targets whose Events list contains
// event.Type. Deliveries run in the background, at most DefaultConcurrency
// at once; Dispatch blocks while every slot is taken.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, t := range d.targets {
		if !matches(t.Events, event) {
			continue
		}
		d.slots.Add()
		d.pending.Add(1)
		go func(t Target) {
			defer d.pending.Done()
			defer d.slots.Done()
			if err := Send(context.Background(), t, event); err != nil {
				d.logger.Warn("alert delivery failed", "url", t.URL, "type", event.Type, "error", err)
			}
		}(t)
	}
}

// Wait blocks until every dispatched delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.pending.Wait()
}

func matches(events []string, event Event) bool {
	for _, e := range events {
		if e == event.Type || e == "*" {
			return true
		}
	}
	return false
}
