package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tphakala/voterimport/internal/caste"
	"github.com/tphakala/voterimport/internal/datastore/entities"
)

// SurnameRepository manages surname mappings. It satisfies
// caste.MappingSource and caste.MappingStore.
type SurnameRepository struct {
	db *gorm.DB
}

// NewSurnameRepository creates a SurnameRepository.
func NewSurnameRepository(db *gorm.DB) *SurnameRepository {
	return &SurnameRepository{db: db}
}

// ActiveMappings loads every active mapping in one query.
func (r *SurnameRepository) ActiveMappings(ctx context.Context) (map[string]caste.Category, error) {
	var rows []entities.SurnameMapping
	err := r.db.WithContext(ctx).
		Select("surname", "caste_group").
		Where("is_active = ?", true).
		Find(&rows).Error
	if err != nil {
		return nil, repoError(err, "load_active_mappings")
	}

	out := make(map[string]caste.Category, len(rows))
	for i := range rows {
		out[rows[i].Surname] = caste.Category(rows[i].CasteGroup)
	}
	return out, nil
}

// UpsertMapping creates or reactivates the mapping for surname.
func (r *SurnameRepository) UpsertMapping(ctx context.Context, surname string, category caste.Category, notes string) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entities.SurnameMapping
		err := tx.Where("surname = ?", surname).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(&entities.SurnameMapping{
				Surname:    surname,
				CasteGroup: string(category),
				IsActive:   true,
				Notes:      notes,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"caste_group": string(category),
			"is_active":   true,
			"notes":       notes,
		}).Error
	})
	if err != nil {
		return false, repoError(err, "upsert_mapping", "surname", surname)
	}
	return created, nil
}

// Deactivate hides a mapping from lookups without deleting it.
func (r *SurnameRepository) Deactivate(ctx context.Context, surname string) error {
	res := r.db.WithContext(ctx).Model(&entities.SurnameMapping{}).
		Where("surname = ?", surname).
		Update("is_active", false)
	if res.Error != nil {
		return repoError(res.Error, "deactivate_mapping", "surname", surname)
	}
	if res.RowsAffected == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// ClearMappings deletes every mapping.
func (r *SurnameRepository) ClearMappings(ctx context.Context) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&entities.SurnameMapping{}).Error
	if err != nil {
		return repoError(err, "clear_mappings")
	}
	return nil
}

// CountActive returns the number of active mappings.
func (r *SurnameRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.SurnameMapping{}).
		Where("is_active = ?", true).
		Count(&n).Error
	return n, err
}
