package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// Narrow read interfaces; the postgres stores satisfy them directly.

// OpportunityArchiveStore lists opportunities older than a cutoff.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// MovementArchiveStore lists vault movements older than a cutoff.
type MovementArchiveStore interface {
	MovementsBefore(ctx context.Context, before time.Time) ([]domain.VaultMovement, error)
}

// ErrorLogArchiveStore lists error log rows older than a cutoff.
type ErrorLogArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ErrorLog, error)
}

// ObjectChecker reports whether an object key already exists.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = 32 * 1024 * 1024

// ArchiveImpl implements domain.Archiver. Each kind is written once per
// cutoff month to archive/<kind>/YYYY-MM.jsonl; a rerun in the same month
// finds the object and uploads nothing. Rows are never deleted from
// postgres here.
type ArchiveImpl struct {
	writer    domain.ArchiveSink
	existing  ObjectChecker
	opps      OpportunityArchiveStore
	movements MovementArchiveStore
	errLogs   ErrorLogArchiveStore
	audit     domain.AuditStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates an ArchiveImpl. existing may be nil, in which case
// every run uploads.
func NewArchiver(
	writer domain.ArchiveSink,
	existing ObjectChecker,
	opps OpportunityArchiveStore,
	movements MovementArchiveStore,
	errLogs ErrorLogArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		existing:  existing,
		opps:      opps,
		movements: movements,
		errLogs:   errLogs,
		audit:     audit,
	}
}

// ArchiveOpportunities uploads opportunities older than before.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	return archiveKind(ctx, a, domain.ArchiveOpportunities, before, func(ctx context.Context) ([]opportunityRecord, error) {
		opps, err := a.opps.ListBefore(ctx, before)
		if err != nil {
			return nil, err
		}
		out := make([]opportunityRecord, len(opps))
		for i, o := range opps {
			out[i] = toOpportunityRecord(o)
		}
		return out, nil
	})
}

// ArchiveMovements uploads vault movements older than before.
func (a *ArchiveImpl) ArchiveMovements(ctx context.Context, before time.Time) (int64, error) {
	return archiveKind(ctx, a, domain.ArchiveVaultMovements, before, func(ctx context.Context) ([]movementRecord, error) {
		ms, err := a.movements.MovementsBefore(ctx, before)
		if err != nil {
			return nil, err
		}
		out := make([]movementRecord, len(ms))
		for i, m := range ms {
			out[i] = movementRecord{
				ID:            m.ID,
				VaultID:       m.VaultID,
				Asset:         m.Asset,
				TransactionID: m.TransactionID,
				OldAmount:     m.OldAmount,
				NewAmount:     m.NewAmount,
				Difference:    m.Difference,
				CreatedAt:     m.CreatedAt,
			}
		}
		return out, nil
	})
}

// ArchiveErrorLogs uploads error log rows older than before.
func (a *ArchiveImpl) ArchiveErrorLogs(ctx context.Context, before time.Time) (int64, error) {
	return archiveKind(ctx, a, domain.ArchiveErrorLogs, before, func(ctx context.Context) ([]errorLogRecord, error) {
		logs, err := a.errLogs.ListBefore(ctx, before)
		if err != nil {
			return nil, err
		}
		out := make([]errorLogRecord, len(logs))
		for i, e := range logs {
			out[i] = errorLogRecord{ID: e.ID, Message: e.Message, Details: e.Details, Context: e.Context, CreatedAt: e.CreatedAt}
		}
		return out, nil
	})
}

// archiveKind is the shared query, encode, upload and audit sequence.
func archiveKind[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind domain.ArchiveKind,
	before time.Time,
	load func(context.Context) ([]T, error),
) (int64, error) {
	path := archivePath(kind, before)
	if a.existing != nil {
		ok, err := a.existing.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if ok {
			return 0, nil
		}
	}

	records, err := load(ctx)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+string(kind), map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// JSONL row shapes. Decimals encode as strings.

type legRecord struct {
	Symbol    string `json:"symbol"`
	From      string `json:"from"`
	To        string `json:"to"`
	Direction string `json:"direction"`
}

type opportunityRecord struct {
	ID                 string            `json:"id"`
	Kind               string            `json:"kind"`
	Cycle              string            `json:"cycle"`
	Legs               []legRecord       `json:"legs"`
	Prices             []decimal.Decimal `json:"prices"`
	ProfitPercentage   decimal.Decimal   `json:"profit_percentage"`
	MinProfitThreshold decimal.Decimal   `json:"min_profit_threshold"`
	Executed           bool              `json:"executed"`
	CreatedAt          time.Time         `json:"created_at"`
}

func toOpportunityRecord(o domain.Opportunity) opportunityRecord {
	legs := make([]legRecord, len(o.Legs))
	for i, l := range o.Legs {
		legs[i] = legRecord{Symbol: l.Symbol, From: l.From, To: l.To, Direction: string(l.Direction)}
	}
	return opportunityRecord{
		ID:                 o.ID,
		Kind:               string(o.CycleKind),
		Cycle:              o.CycleKey,
		Legs:               legs,
		Prices:             o.Prices,
		ProfitPercentage:   o.ProfitPercentage,
		MinProfitThreshold: o.MinProfitThreshold,
		Executed:           o.Executed,
		CreatedAt:          o.CreatedAt,
	}
}

type movementRecord struct {
	ID            int64           `json:"id"`
	VaultID       int64           `json:"vault_id"`
	Asset         string          `json:"asset"`
	TransactionID string          `json:"transaction_id"`
	OldAmount     decimal.Decimal `json:"old_amount"`
	NewAmount     decimal.Decimal `json:"new_amount"`
	Difference    decimal.Decimal `json:"difference"`
	CreatedAt     time.Time       `json:"created_at"`
}

type errorLogRecord struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Details   string    `json:"details"`
	Context   string    `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// archivePath builds the key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/opportunities/2025-01.jsonl
func archivePath(kind domain.ArchiveKind, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
