package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/voterimport/internal/datastore/entities"
)

// VoterRepository reads and writes voter records.
type VoterRepository interface {
	// FindByVoterIDs loads every existing voter among ids in one query.
	FindByVoterIDs(ctx context.Context, ids []int64) (map[int64]*entities.Voter, error)
	// SaveBatch writes inserts and updates in a single transaction. Both
	// statements upsert on voter_id.
	SaveBatch(ctx context.Context, inserts, updates []*entities.Voter) error
	// Get returns one voter.
	Get(ctx context.Context, voterID int64) (*entities.Voter, error)
	// Count returns the number of stored voters.
	Count(ctx context.Context) (int64, error)
	// UnmappedSurnames returns surnames of voters without a known category,
	// most frequent first.
	UnmappedSurnames(ctx context.Context, limit int) ([]SurnameCount, error)
}

// SurnameCount is a surname with the number of voters carrying it.
type SurnameCount struct {
	Surname string
	Count   int64
}

// maxBatchStatement keeps a whole chunk in one INSERT statement.
const maxBatchStatement = 1000

type voterRepository struct {
	db *gorm.DB
}

// NewVoterRepository creates a VoterRepository.
func NewVoterRepository(db *gorm.DB) VoterRepository {
	return &voterRepository{db: db}
}

func voterUpsert() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "voter_id"}},
		DoUpdates: clause.AssignmentColumns(entities.VoterUpdateColumns),
	}
}

func (r *voterRepository) FindByVoterIDs(ctx context.Context, ids []int64) (map[int64]*entities.Voter, error) {
	found := make(map[int64]*entities.Voter, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var voters []*entities.Voter
	if err := r.db.WithContext(ctx).Where("voter_id IN ?", ids).Find(&voters).Error; err != nil {
		return nil, repoError(err, "find_voters", "count", len(ids))
	}
	for _, v := range voters {
		found[v.VoterID] = v
	}
	return found, nil
}

func (r *voterRepository) SaveBatch(ctx context.Context, inserts, updates []*entities.Voter) error {
	if len(inserts) == 0 && len(updates) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(inserts) > 0 {
			if err := tx.Clauses(voterUpsert()).CreateInBatches(inserts, maxBatchStatement).Error; err != nil {
				return err
			}
		}
		if len(updates) > 0 {
			if err := tx.Clauses(voterUpsert()).CreateInBatches(updates, maxBatchStatement).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return repoError(err, "save_voter_batch",
			"inserts", len(inserts),
			"updates", len(updates))
	}
	return nil
}

func (r *voterRepository) Get(ctx context.Context, voterID int64) (*entities.Voter, error) {
	var v entities.Voter
	err := r.db.WithContext(ctx).Where("voter_id = ?", voterID).Take(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *voterRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.Voter{}).Count(&n).Error
	return n, err
}

func (r *voterRepository) UnmappedSurnames(ctx context.Context, limit int) ([]SurnameCount, error) {
	var out []SurnameCount
	q := r.db.WithContext(ctx).Model(&entities.Voter{}).
		Select("surname, COUNT(*) AS count").
		Where("caste_group IS NULL OR caste_group = ?", "unknown").
		Group("surname").
		Order("count DESC, surname ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&out).Error; err != nil {
		return nil, repoError(err, "unmapped_surnames")
	}
	return out, nil
}
