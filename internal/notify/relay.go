package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Subscriber is the subscribe half of domain.SignalBus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Relay turns bus events into notifications, so any process that detects or
// executes can alert through the one process that owns the chat credentials.
type Relay struct {
	bus      Subscriber
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(bus Subscriber, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run forwards events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	opps, err := r.bus.Subscribe(ctx, domain.ChannelOpportunities)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelOpportunities, err)
	}
	execs, err := r.bus.Subscribe(ctx, domain.ChannelExecutions)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelExecutions, err)
	}

	r.logger.Info("notify relay started")
	defer r.logger.Info("notify relay stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-opps:
			if !ok {
				return nil
			}
			r.handleOpportunity(ctx, raw)
		case raw, ok := <-execs:
			if !ok {
				return nil
			}
			r.handleExecution(ctx, raw)
		}
	}
}

func (r *Relay) handleOpportunity(ctx context.Context, raw []byte) {
	if !r.notifier.Enabled(EventOpportunityDetected) {
		return
	}
	var evt domain.OpportunityEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		r.logger.DebugContext(ctx, "bad opportunity event", slog.String("error", err.Error()))
		return
	}
	_ = r.notifier.Notify(ctx, EventOpportunityDetected, "Opportunity detected", FormatOpportunity(evt))
}

func (r *Relay) handleExecution(ctx context.Context, raw []byte) {
	var evt domain.ExecutionEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		r.logger.DebugContext(ctx, "bad execution event", slog.String("error", err.Error()))
		return
	}

	var event, title string
	switch evt.State {
	case domain.StateSettled:
		event, title = EventExecutionSettled, "Execution settled"
	case domain.StatePartial:
		event, title = EventExecutionPartial, "Execution PARTIAL: manual intervention required"
	case domain.StateAborted:
		if evt.Reason == "" {
			return
		}
		event, title = EventError, "Execution aborted"
	default:
		return
	}
	_ = r.notifier.Notify(ctx, event, title, FormatExecution(evt))
}

// FormatOpportunity renders an opportunity event as a chat message.
func FormatOpportunity(evt domain.OpportunityEvent) string {
	return fmt.Sprintf("%s cycle %s\nprofit: %s%%", evt.Kind, evt.Cycle, evt.ProfitPercentage)
}

// FormatExecution renders an execution event as a chat message.
func FormatExecution(evt domain.ExecutionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run: %s\ncycle: %s\nstate: %s\n", evt.RunID, evt.Cycle, evt.State)
	fmt.Fprintf(&b, "capital: %s %s\n", evt.Capital, evt.StartAsset)
	if evt.FinalAmount != "" && evt.FinalAmount != "0" {
		fmt.Fprintf(&b, "final: %s %s\n", evt.FinalAmount, evt.EndAsset)
	}
	if evt.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", evt.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}
