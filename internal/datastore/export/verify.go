package export

import (
	"context"
	"fmt"

	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// DefaultSampleSize is the number of voters compared field by field.
const DefaultSampleSize = 5

// CountCheck compares one table's row counts.
type CountCheck struct {
	Table  string
	Source int64
	Target int64
}

// Match reports whether both sides hold the same number of rows.
func (c CountCheck) Match() bool { return c.Source == c.Target }

// Verify compares row counts of every table and then a random sample of
// voters field by field. The returned checks are complete even when the
// error reports a mismatch.
func (e *Exporter) Verify(ctx context.Context, sampleSize int) ([]CountCheck, error) {
	checks := make([]CountCheck, 0, len(tables))
	mismatched := 0
	for _, t := range tables {
		c := CountCheck{Table: t.name}
		if err := e.source.WithContext(ctx).Model(t.model).Count(&c.Source).Error; err != nil {
			return checks, exportError(err, "verify_count", t.name)
		}
		if err := e.target.WithContext(ctx).Model(t.model).Count(&c.Target).Error; err != nil {
			return checks, exportError(err, "verify_count", t.name)
		}
		if !c.Match() {
			mismatched++
		}
		checks = append(checks, c)
	}
	if mismatched > 0 {
		return checks, verifyError(fmt.Sprintf("%d tables have mismatched row counts", mismatched))
	}

	if err := e.sampleVoters(ctx, sampleSize); err != nil {
		return checks, err
	}
	return checks, nil
}

func (e *Exporter) sampleVoters(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	random := "RANDOM()"
	if e.source.Dialector.Name() == "mysql" {
		random = "RAND()"
	}

	var sample []entities.Voter
	if err := e.source.WithContext(ctx).Order(random).Limit(n).Find(&sample).Error; err != nil {
		return exportError(err, "verify_sample", "voters")
	}

	for i := range sample {
		src := &sample[i]
		var dst entities.Voter
		if err := e.target.WithContext(ctx).First(&dst, "voter_id = ?", src.VoterID).Error; err != nil {
			return exportError(err, "verify_sample", "voters")
		}
		if field := voterMismatch(src, &dst); field != "" {
			return verifyError(fmt.Sprintf("voter %d: %s differs", src.VoterID, field))
		}
	}

	e.log.Debug("voter sample verified", logger.Int("samples", len(sample)))
	return nil
}

// voterMismatch returns the first differing field name, or "".
func voterMismatch(a, b *entities.Voter) string {
	switch {
	case a.Name != b.Name:
		return "name"
	case a.Surname != b.Surname:
		return "surname"
	case a.Age != b.Age:
		return "age"
	case a.AgeGroup != b.AgeGroup:
		return "age_group"
	case a.Gender != b.Gender:
		return "gender"
	case deref(a.CasteGroup) != deref(b.CasteGroup):
		return "caste_group"
	case a.Province != b.Province:
		return "province"
	case a.Ward != b.Ward:
		return "ward"
	case deref(a.Constituency) != deref(b.Constituency):
		return "constituency"
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func verifyError(msg string) error {
	return errors.Newf("export verification failed: %s", msg).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("operation", "verify").
		Build()
}
