// Package ingest turns raw CSV rows into voter records and writes them in
// bounded, idempotent batches.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tphakala/voterimport/internal/caste"
	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/surname"
)

// Column names of the voter CSV. Matching is case-sensitive.
const (
	ColProvince     = "Province"
	ColDistrict     = "District"
	ColMunicipality = "Municipality"
	ColWard         = "Ward"
	ColCenter       = "Center"
	ColVoterID      = "VoterID"
	ColName         = "Name"
	ColAge          = "Age"
	ColGender       = "Gender"
	ColSpouse       = "Spouse"
	ColParent       = "Parent"
)

// RequiredColumns lists every column a voter file must carry.
var RequiredColumns = []string{
	ColProvince, ColDistrict, ColMunicipality, ColWard, ColCenter,
	ColVoterID, ColName, ColAge, ColGender, ColSpouse, ColParent,
}

// RawRow is one CSV record keyed by header name.
type RawRow map[string]string

// Context carries geography assigned from the file layout. It overrides the
// row's own Province column when set.
type Context struct {
	Province     string
	Constituency string
	UserID       *string
}

// Resolver maps a normalized surname to a category.
type Resolver interface {
	Resolve(ctx context.Context, normalized string) caste.Category
}

// RowValidationError rejects a single row without aborting its batch.
type RowValidationError struct {
	Row     int // 1-based position in the batch, 0 when unknown
	VoterID string
	Field   string
	Reason  string
}

func (e *RowValidationError) Error() string {
	var b strings.Builder
	if e.Row > 0 {
		fmt.Fprintf(&b, "Row %d: ", e.Row)
	}
	if e.VoterID != "" {
		fmt.Fprintf(&b, "VoterID %s: ", e.VoterID)
	}
	fmt.Fprintf(&b, "%s %s", e.Field, e.Reason)
	return b.String()
}

var genders = map[string]string{
	"पुरुष":  entities.GenderMale,
	"महिला": entities.GenderFemale,
	"अन्य":  entities.GenderOther,
	"male":   entities.GenderMale,
	"female": entities.GenderFemale,
	"other":  entities.GenderOther,
}

// MapGender translates a gender token. Unrecognized tokens map to other.
func MapGender(raw string) string {
	raw = strings.TrimSpace(raw)
	if g, ok := genders[raw]; ok {
		return g
	}
	if g, ok := genders[strings.ToLower(raw)]; ok {
		return g
	}
	return entities.GenderOther
}

// BuildResult is a built voter plus its surname resolution.
type BuildResult struct {
	Voter    *entities.Voter
	Surname  string // normalized
	Category caste.Category
	Resolved bool
}

// RowBuilder validates raw rows and maps them onto voter entities.
type RowBuilder struct {
	resolver Resolver
}

// NewRowBuilder creates a RowBuilder.
func NewRowBuilder(resolver Resolver) *RowBuilder {
	return &RowBuilder{resolver: resolver}
}

// BuildRow validates raw and writes it onto existing, or onto a new voter
// when existing is nil.
func (b *RowBuilder) BuildRow(ctx context.Context, raw RawRow, existing *entities.Voter, rc Context) (*BuildResult, error) {
	voterIDText := strings.TrimSpace(raw[ColVoterID])
	fail := func(field, reason string) (*BuildResult, error) {
		return nil, &RowValidationError{VoterID: voterIDText, Field: field, Reason: reason}
	}

	for _, col := range RequiredColumns {
		if _, ok := raw[col]; !ok {
			return fail(col, "is missing")
		}
	}

	voterID, err := ParseVoterID(voterIDText)
	if err != nil {
		return fail(ColVoterID, "must be an integer")
	}

	age, err := strconv.Atoi(strings.TrimSpace(raw[ColAge]))
	if err != nil {
		return fail(ColAge, "must be an integer")
	}
	if age < entities.MinVoterAge || age > entities.MaxVoterAge {
		return fail(ColAge, fmt.Sprintf("%d is outside %d-%d", age, entities.MinVoterAge, entities.MaxVoterAge))
	}

	ward, err := strconv.Atoi(strings.TrimSpace(raw[ColWard]))
	if err != nil {
		return fail(ColWard, "must be an integer")
	}

	name := strings.TrimSpace(raw[ColName])
	if err := surname.ValidateName(name); err != nil {
		return fail(ColName, err.Error())
	}

	province := rc.Province
	if province == "" {
		province = strings.TrimSpace(raw[ColProvince])
	}
	if province == "" {
		return fail(ColProvince, "is required")
	}

	text := map[string]string{}
	for _, col := range []string{ColDistrict, ColMunicipality, ColCenter} {
		v := strings.TrimSpace(raw[col])
		if v == "" {
			return fail(col, "is required")
		}
		text[col] = v
	}

	extracted := surname.Extract(name)
	normalized := surname.Normalize(extracted)

	widths := []struct {
		field string
		value string
		size  int
	}{
		{ColName, name, entities.VoterNameSize},
		{"Surname", extracted, entities.VoterSurnameSize},
		{"Surname", normalized, entities.VoterSurnameSize},
		{ColProvince, province, entities.VoterRegionSize},
		{ColDistrict, text[ColDistrict], entities.VoterRegionSize},
		{ColMunicipality, text[ColMunicipality], entities.VoterMunicipalitySize},
		{ColCenter, text[ColCenter], entities.VoterCenterSize},
		{"Constituency", strings.TrimSpace(rc.Constituency), entities.VoterRegionSize},
		{ColSpouse, strings.TrimSpace(raw[ColSpouse]), entities.VoterRelativeSize},
		{ColParent, strings.TrimSpace(raw[ColParent]), entities.VoterRelativeSize},
	}
	for _, w := range widths {
		if n := utf8.RuneCountInString(w.value); n > w.size {
			return fail(w.field, fmt.Sprintf("is %d characters, longer than %d", n, w.size))
		}
	}

	category := b.resolver.Resolve(ctx, normalized)
	casteGroup := string(category)

	v := existing
	if v == nil {
		v = &entities.Voter{VoterID: voterID}
	}
	v.Name = name
	v.Surname = extracted
	v.Age = age
	v.AgeGroup = entities.AgeGroupFor(age)
	v.Gender = MapGender(raw[ColGender])
	v.CasteGroup = &casteGroup
	v.Province = province
	v.District = text[ColDistrict]
	v.Municipality = text[ColMunicipality]
	v.Ward = ward
	v.Center = text[ColCenter]
	v.Constituency = optional(rc.Constituency)
	v.Spouse = placeholder(raw[ColSpouse])
	v.Parent = placeholder(raw[ColParent])

	return &BuildResult{
		Voter:    v,
		Surname:  normalized,
		Category: category,
		Resolved: category != caste.Unknown,
	}, nil
}

// ParseVoterID parses a voter id cell.
func ParseVoterID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// placeholder treats blank and "-" as absent.
func placeholder(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	return &s
}
