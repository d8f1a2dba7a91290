package caste

import (
	"context"
	"encoding/csv"
	"io"
	"slices"
	"strings"

	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/surname"
)

// MappingStore persists surname mappings.
type MappingStore interface {
	UpsertMapping(ctx context.Context, surname string, category Category, notes string) (created bool, err error)
	ClearMappings(ctx context.Context) error
	CountActive(ctx context.Context) (int64, error)
}

// LoadSummary reports the outcome of a mapping load.
type LoadSummary struct {
	Created        int
	Updated        int
	Skipped        int
	UnmappedCastes []string
	ActiveTotal    int64
}

// LoadMappings reads (surname, caste name) rows from r and upserts one active
// mapping per surname. A header row is detected and skipped. With clear set,
// existing mappings are removed first.
func LoadMappings(ctx context.Context, r io.Reader, store MappingStore, clear bool) (*LoadSummary, error) {
	if clear {
		if err := store.ClearMappings(ctx); err != nil {
			return nil, err
		}
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	summary := &LoadSummary{}
	unmapped := make(map[string]struct{})
	line := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return summary, errors.New(err).
				Component("caste").
				Category(errors.CategoryFileParsing).
				Context("operation", "load_surname_mappings").
				Context("line", line+1).
				Build()
		}
		line++

		if len(record) < 2 {
			summary.Skipped++
			continue
		}
		name := surname.Normalize(strings.TrimPrefix(record[0], "\ufeff"))
		casteName := strings.TrimSpace(record[1])
		if line == 1 && isHeader(name, casteName) {
			continue
		}
		if name == "" {
			summary.Skipped++
			continue
		}

		category, known := MapCasteName(casteName)
		if !known && casteName != "" {
			unmapped[casteName] = struct{}{}
		}

		created, err := store.UpsertMapping(ctx, name, category, casteName)
		if err != nil {
			return summary, err
		}
		if created {
			summary.Created++
		} else {
			summary.Updated++
		}
	}

	for name := range unmapped {
		summary.UnmappedCastes = append(summary.UnmappedCastes, name)
	}
	slices.Sort(summary.UnmappedCastes)

	total, err := store.CountActive(ctx)
	if err != nil {
		return summary, err
	}
	summary.ActiveTotal = total
	return summary, nil
}

func isHeader(first, second string) bool {
	first = strings.ToLower(first)
	second = strings.ToLower(second)
	return (first == "surname" || first == "थर") && (strings.Contains(second, "caste") || second == "जात")
}
