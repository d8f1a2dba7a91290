// Package export copies a voterimport database from one backend into another,
// typically a single-node SQLite file into the MySQL or PostgreSQL server that
// analytics consumers read. Rows keep their keys and re-running an export
// skips rows already present in the target.
package export

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

const (
	DefaultBatchSize = 1000
	MaxBatchSize     = 10000
)

// Options controls an export run.
type Options struct {
	BatchSize int
	// Clean deletes every target row before copying.
	Clean bool
}

// TableStats is the outcome for one table.
type TableStats struct {
	Name     string
	Source   int64
	Migrated int64
	Skipped  int64
	Errors   int64
	Duration time.Duration
}

// Stats is the outcome of a Run.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time
	Tables    []TableStats
}

// Totals sums the per-table counters.
func (s *Stats) Totals() (migrated, skipped, failed int64) {
	for _, t := range s.Tables {
		migrated += t.Migrated
		skipped += t.Skipped
		failed += t.Errors
	}
	return migrated, skipped, failed
}

// Exporter copies rows from source to target.
type Exporter struct {
	source *gorm.DB
	target *gorm.DB
	opts   Options
	log    logger.Logger
}

// table binds a table name to its typed copy and count functions.
type table struct {
	name  string
	model any
	copy  func(ctx context.Context, e *Exporter, name string) (*TableStats, error)
}

// tables lists every table in an order where ledger parents precede children.
var tables = []table{
	{"surname_mappings", &entities.SurnameMapping{}, copyTable[entities.SurnameMapping]},
	{"voters", &entities.Voter{}, copyTable[entities.Voter]},
	{"upload_jobs", &entities.UploadJob{}, copyTable[entities.UploadJob]},
	{"upload_chunks", &entities.UploadChunk{}, copyTable[entities.UploadChunk]},
	{"upload_unresolved_surnames", &entities.UploadUnresolvedSurname{}, copyTable[entities.UploadUnresolvedSurname]},
}

// New returns an Exporter. Both databases must already carry the schema.
func New(source, target *gorm.DB, opts Options) (*Exporter, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize < 1 || opts.BatchSize > MaxBatchSize {
		return nil, errors.Newf("batch size must be between 1 and %d, got %d", MaxBatchSize, opts.BatchSize).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	return &Exporter{
		source: source,
		target: target,
		opts:   opts,
		log:    logger.Global().Module("datastore.export"),
	}, nil
}

// Run copies every table. A failing batch is counted and skipped so one bad
// row does not abort a long export; a failing count or scan aborts the run.
func (e *Exporter) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	if e.opts.Clean {
		if err := e.clean(ctx); err != nil {
			return nil, err
		}
	}

	for _, t := range tables {
		ts, err := t.copy(ctx, e, t.name)
		if err != nil {
			return stats, exportError(err, "copy_table", t.name)
		}
		stats.Tables = append(stats.Tables, *ts)
	}

	stats.EndTime = time.Now()
	migrated, skipped, failed := stats.Totals()
	e.log.Info("export finished",
		logger.Int64("migrated", migrated),
		logger.Int64("skipped", skipped),
		logger.Int64("errors", failed),
		logger.Duration("duration", stats.EndTime.Sub(stats.StartTime)))
	return stats, nil
}

// clean deletes target rows children first.
func (e *Exporter) clean(ctx context.Context) error {
	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		err := e.target.WithContext(ctx).
			Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(t.model).Error
		if err != nil {
			return exportError(err, "clean_table", t.name)
		}
		e.log.Debug("target table cleaned", logger.String("table", t.name))
	}
	return nil
}

func copyTable[T any](ctx context.Context, e *Exporter, name string) (*TableStats, error) {
	start := time.Now()
	stats := &TableStats{Name: name}

	if err := e.source.WithContext(ctx).Model(new(T)).Count(&stats.Source).Error; err != nil {
		return stats, err
	}
	if stats.Source == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var processed int64
	batchNum := 0
	err := e.source.WithContext(ctx).Model(new(T)).FindInBatches(new([]T), e.opts.BatchSize, func(tx *gorm.DB, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batchNum++
		records := tx.Statement.Dest.(*[]T)

		result := e.target.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records)
		if result.Error != nil {
			stats.Errors += int64(len(*records))
			e.log.Warn("export batch failed",
				logger.String("table", stats.Name),
				logger.Int("batch", batchNum),
				logger.Error(result.Error))
			return nil
		}

		stats.Migrated += result.RowsAffected
		stats.Skipped += int64(len(*records)) - result.RowsAffected
		processed += int64(len(*records))

		if batchNum%10 == 0 {
			e.log.Info("export progress",
				logger.String("table", stats.Name),
				logger.Int64("processed", processed),
				logger.Int64("total", stats.Source))
		}
		return nil
	}).Error
	if err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	e.log.Debug("table exported",
		logger.String("table", stats.Name),
		logger.Int64("migrated", stats.Migrated),
		logger.Int64("skipped", stats.Skipped),
		logger.Int64("errors", stats.Errors))
	return stats, nil
}

func exportError(err error, operation, table string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryCancellation).
			Context("operation", operation).
			Context("table", table).
			Build()
	}
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("table", table).
		Build()
}
