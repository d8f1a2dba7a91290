package entities

import (
	"time"

	"gorm.io/gorm"
)

// AgeGroup is a coarse age bracket derived from Voter.Age.
type AgeGroup string

const (
	AgeGroupGenZ    AgeGroup = "gen_z"   // 18-29
	AgeGroupWorking AgeGroup = "working" // 30-45
	AgeGroupMature  AgeGroup = "mature"  // 46-60
	AgeGroupSenior  AgeGroup = "senior"
)

// Gender values stored on Voter.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// Voter age bounds.
const (
	MinVoterAge = 18
	MaxVoterAge = 150
)

// AgeGroupFor returns the bracket for age.
func AgeGroupFor(age int) AgeGroup {
	switch {
	case age >= 18 && age <= 29:
		return AgeGroupGenZ
	case age >= 30 && age <= 45:
		return AgeGroupWorking
	case age >= 46 && age <= 60:
		return AgeGroupMature
	default:
		return AgeGroupSenior
	}
}

// Voter text column widths in characters. They match the size tags below.
const (
	VoterNameSize         = 255
	VoterSurnameSize      = 100
	VoterRegionSize       = 100 // province, district, constituency
	VoterMunicipalitySize = 150
	VoterCenterSize       = 255
	VoterRelativeSize     = 255 // spouse, parent
)

// Voter is a single registration record. VoterID is the natural key and the
// conflict target of every write.
type Voter struct {
	VoterID      int64     `gorm:"column:voter_id;primaryKey;autoIncrement:false"`
	Name         string    `gorm:"size:255;not null"`
	Surname      string    `gorm:"size:100;not null;index:idx_voters_surname"`
	Age          int       `gorm:"not null"`
	AgeGroup     AgeGroup  `gorm:"size:20;not null;index:idx_voters_age_gender,priority:1;index:idx_voters_age_caste,priority:1;index:idx_voters_ward_age,priority:2"`
	Gender       string    `gorm:"size:10;not null;index:idx_voters_age_gender,priority:2;index:idx_voters_gender_caste,priority:1"`
	CasteGroup   *string   `gorm:"size:20;index:idx_voters_caste_group;index:idx_voters_age_caste,priority:2;index:idx_voters_gender_caste,priority:2"`
	Province     string    `gorm:"size:100;not null;index:idx_voters_province"`
	District     string    `gorm:"size:100;not null;index:idx_voters_district"`
	Municipality string    `gorm:"size:150;not null"`
	Ward         int       `gorm:"not null;index:idx_voters_ward_age,priority:1"`
	Center       string    `gorm:"size:255;not null"`
	Constituency *string   `gorm:"size:100;index:idx_voters_constituency"`
	Spouse       *string   `gorm:"size:255"`
	Parent       *string   `gorm:"size:255"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Voter) TableName() string {
	return "voters"
}

// BeforeSave keeps AgeGroup consistent with Age on every write.
func (v *Voter) BeforeSave(*gorm.DB) error {
	v.AgeGroup = AgeGroupFor(v.Age)
	return nil
}

// VoterUpdateColumns are overwritten when an existing voter id is written
// again. created_at is intentionally absent.
var VoterUpdateColumns = []string{
	"name", "surname", "age", "age_group", "gender", "caste_group",
	"province", "district", "municipality", "ward", "center",
	"constituency", "spouse", "parent", "updated_at",
}
