package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// OpportunityService records qualifying cycles and fans them out to the bus
// and the audit log.
type OpportunityService struct {
	opps   domain.OpportunityStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewOpportunityService creates an OpportunityService with all required
// dependencies.
func NewOpportunityService(
	opps domain.OpportunityStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *OpportunityService {
	return &OpportunityService{
		opps:   opps,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// Record inserts one opportunity row for cycle. There is no dedup: a cycle
// that qualifies on consecutive ticks is recorded once per tick. Only the
// insert error is returned; bus and audit failures are logged.
func (s *OpportunityService) Record(
	ctx context.Context,
	cycle domain.Cycle,
	eval domain.Evaluation,
	threshold decimal.Decimal,
) (domain.Opportunity, error) {
	opp := domain.Opportunity{
		ID:                 uuid.NewString(),
		CycleKind:          cycle.Kind,
		CycleKey:           cycle.Key(),
		StartAsset:         cycle.StartAsset,
		EndAsset:           cycle.EndAsset,
		Legs:               cycle.Legs,
		Prices:             eval.Prices(),
		ProfitPercentage:   eval.ProfitPercentage,
		MinProfitThreshold: threshold,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.opps.Insert(ctx, opp); err != nil {
		return domain.Opportunity{}, fmt.Errorf("opportunity_service: insert: %w", err)
	}

	evt, _ := json.Marshal(domain.OpportunityEvent{
		Event:            "opportunity_detected",
		OpportunityID:    opp.ID,
		Cycle:            opp.CycleKey,
		Kind:             opp.CycleKind,
		StartAsset:       opp.StartAsset,
		EndAsset:         opp.EndAsset,
		ProfitPercentage: opp.ProfitPercentage.String(),
		At:               opp.CreatedAt,
	})
	if s.bus != nil {
		if pubErr := s.bus.Publish(ctx, domain.ChannelOpportunities, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "opportunity_service: publish event failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", pubErr.Error()),
			)
		}
		if appendErr := s.bus.StreamAppend(ctx, domain.StreamOpportunities, evt); appendErr != nil {
			s.logger.WarnContext(ctx, "opportunity_service: stream append failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", appendErr.Error()),
			)
		}
	}

	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, "opportunity_recorded", map[string]any{
			"opp_id":            opp.ID,
			"cycle":             opp.CycleKey,
			"profit_percentage": opp.ProfitPercentage.String(),
			"threshold":         threshold.String(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "opportunity_service: audit log failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", auditErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "opportunity_service: opportunity recorded",
		slog.String("opp_id", opp.ID),
		slog.String("cycle", opp.CycleKey),
		slog.String("profit_percentage", opp.ProfitPercentage.StringFixed(4)),
	)

	return opp, nil
}

// MarkExecuted flags an opportunity as executed.
func (s *OpportunityService) MarkExecuted(ctx context.Context, id string) error {
	if err := s.opps.MarkExecuted(ctx, id); err != nil {
		return fmt.Errorf("opportunity_service: mark executed %q: %w", id, err)
	}
	return nil
}

// ListRecent returns the most recent opportunities up to limit.
func (s *OpportunityService) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	opps, err := s.opps.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("opportunity_service: list recent: %w", err)
	}
	return opps, nil
}
