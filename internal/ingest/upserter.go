package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/voterimport/internal/datastore/entities"
	ierrors "github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// DefaultMaxBatchSize is the largest batch ProcessBatch accepts.
const DefaultMaxBatchSize = 1000

// maxErrorsPerBatch caps the error texts carried back to the ledger.
const maxErrorsPerBatch = 100

// VoterStore is the persistence surface the upserter needs.
type VoterStore interface {
	FindByVoterIDs(ctx context.Context, ids []int64) (map[int64]*entities.Voter, error)
	SaveBatch(ctx context.Context, inserts, updates []*entities.Voter) error
}

// BatchRecorder receives batch outcomes.
type BatchRecorder interface {
	RecordBatch(imported, failed int, seconds float64, err error)
	RecordUnresolved(n int)
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	Imported   int
	Failed     int
	Errors     []string
	Unresolved []string
}

// ErrBatchTooLarge is returned for batches above the configured ceiling.
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// Upserter validates a batch of rows and commits it in one transaction.
type Upserter struct {
	store    VoterStore
	builder  *RowBuilder
	maxBatch int
	log      logger.Logger
	metrics  BatchRecorder
}

// UpserterOption configures an Upserter
type UpserterOption func(*Upserter)

// WithMaxBatchSize overrides DefaultMaxBatchSize.
func WithMaxBatchSize(n int) UpserterOption {
	return func(u *Upserter) {
		if n > 0 {
			u.maxBatch = n
		}
	}
}

// WithUpserterLogger sets the logger
func WithUpserterLogger(l logger.Logger) UpserterOption {
	return func(u *Upserter) { u.log = l }
}

// WithBatchMetrics sets the batch recorder
func WithBatchMetrics(m BatchRecorder) UpserterOption {
	return func(u *Upserter) { u.metrics = m }
}

// NewUpserter creates an Upserter.
func NewUpserter(store VoterStore, resolver Resolver, opts ...UpserterOption) *Upserter {
	u := &Upserter{
		store:    store,
		builder:  NewRowBuilder(resolver),
		maxBatch: DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		u.log = logger.Global().Module("ingest")
	}
	return u
}

// ProcessBatch builds every row and commits the valid ones. Row validation
// failures are counted and reported in the result; persistence failures are
// returned and nothing from the batch is written.
func (u *Upserter) ProcessBatch(ctx context.Context, rows []RawRow, rc Context) (*BatchResult, error) {
	if len(rows) > u.maxBatch {
		return nil, ierrors.New(fmt.Errorf("%w: %d rows, limit %d", ErrBatchTooLarge, len(rows), u.maxBatch)).
			Component("ingest").
			Category(ierrors.CategoryLimit).
			Build()
	}

	start := time.Now()
	log := u.log.WithContext(ctx)
	result := &BatchResult{}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, err := ParseVoterID(row[ColVoterID]); err == nil {
			ids = append(ids, id)
		}
	}

	existing, err := u.store.FindByVoterIDs(ctx, ids)
	if err != nil {
		u.record(result, start, err)
		return nil, err
	}

	inserts := make(map[int64]*entities.Voter)
	updates := make(map[int64]*entities.Voter)
	var order []int64
	unresolved := make(map[string]struct{})

	for i, row := range rows {
		id, _ := ParseVoterID(row[ColVoterID])
		built, err := u.builder.BuildRow(ctx, row, existing[id], rc)
		if err != nil {
			var rowErr *RowValidationError
			if errors.As(err, &rowErr) {
				rowErr.Row = i + 1
			}
			result.Failed++
			if len(result.Errors) < maxErrorsPerBatch {
				result.Errors = append(result.Errors, err.Error())
			}
			log.Debug("row rejected", logger.Int("row", i+1), logger.Error(err))
			continue
		}

		v := built.Voter
		if _, seen := inserts[v.VoterID]; !seen {
			if _, seen := updates[v.VoterID]; !seen {
				order = append(order, v.VoterID)
			}
		}
		if existing[v.VoterID] != nil {
			updates[v.VoterID] = v
		} else {
			inserts[v.VoterID] = v
		}
		if !built.Resolved && built.Surname != "" {
			unresolved[built.Surname] = struct{}{}
		}
	}

	toInsert := make([]*entities.Voter, 0, len(inserts))
	toUpdate := make([]*entities.Voter, 0, len(updates))
	for _, id := range order {
		if v, ok := inserts[id]; ok {
			toInsert = append(toInsert, v)
		} else if v, ok := updates[id]; ok {
			toUpdate = append(toUpdate, v)
		}
	}

	if err := u.store.SaveBatch(ctx, toInsert, toUpdate); err != nil {
		u.record(result, start, err)
		return nil, err
	}

	result.Imported = len(toInsert) + len(toUpdate)
	for s := range unresolved {
		result.Unresolved = append(result.Unresolved, s)
	}
	slices.Sort(result.Unresolved)

	u.record(result, start, nil)
	log.Debug("batch committed",
		logger.Int("inserted", len(toInsert)),
		logger.Int("updated", len(toUpdate)),
		logger.Int("failed", result.Failed),
		logger.Int("unresolved", len(result.Unresolved)),
		logger.Duration("duration", time.Since(start)))
	return result, nil
}

func (u *Upserter) record(result *BatchResult, start time.Time, err error) {
	if u.metrics == nil {
		return
	}
	u.metrics.RecordBatch(result.Imported, result.Failed, time.Since(start).Seconds(), err)
	if err == nil && len(result.Unresolved) > 0 {
		u.metrics.RecordUnresolved(len(result.Unresolved))
	}
}
