package repository

import (
	"context"
	"errors"
	"time"

	"github.com/KetaVip/license-bot/internal/domain"
	"github.com/KetaVip/license-bot/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LicenseRepository is the durable license table. Callers do not use it
// directly; the LicenseStore owns it and serializes access.
type LicenseRepository interface {
	Replace(ctx context.Context, rec *domain.LicenseRecord) error
	Save(ctx context.Context, rec *domain.LicenseRecord) error
	FindBySubject(ctx context.Context, subjectID uint64) (*domain.LicenseRecord, error)
	FindByHWID(ctx context.Context, hwid string) (*domain.LicenseRecord, error)
	HWIDExists(ctx context.Context, hwid string) (bool, error)
	DeleteBySubject(ctx context.Context, subjectID uint64) (bool, error)
	ListAll(ctx context.Context) ([]domain.LicenseRecord, error)
	ListActive(ctx context.Context, now time.Time) ([]domain.LicenseRecord, error)
}

type GormLicenseRepository struct{ db *gorm.DB }

func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &GormLicenseRepository{db: db}
}

// Replace inserts rec, overwriting any existing row for the same subject.
// The prior hwid becomes unreachable.
func (r *GormLicenseRepository) Replace(ctx context.Context, rec *domain.LicenseRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "replace", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "license", "replace", "success")
	return nil
}

func (r *GormLicenseRepository) Save(ctx context.Context, rec *domain.LicenseRecord) error {
	err := r.db.WithContext(ctx).Save(rec).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "license", "save", "success")
	return nil
}

func (r *GormLicenseRepository) FindBySubject(ctx context.Context, subjectID uint64) (*domain.LicenseRecord, error) {
	var rec domain.LicenseRecord
	err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_by_subject", "not_found")
			return nil, domain.ErrNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_by_subject", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_by_subject", "success")
	return &rec, nil
}

func (r *GormLicenseRepository) FindByHWID(ctx context.Context, hwid string) (*domain.LicenseRecord, error) {
	var rec domain.LicenseRecord
	err := r.db.WithContext(ctx).Where("hwid = ?", hwid).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_by_hwid", "not_found")
			return nil, domain.ErrNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_by_hwid", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_by_hwid", "success")
	return &rec, nil
}

func (r *GormLicenseRepository) HWIDExists(ctx context.Context, hwid string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.LicenseRecord{}).Where("hwid = ?", hwid).Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "hwid_exists", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "hwid_exists", "success")
	return count > 0, nil
}

func (r *GormLicenseRepository) DeleteBySubject(ctx context.Context, subjectID uint64) (bool, error) {
	res := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Delete(&domain.LicenseRecord{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "license", "delete_by_subject", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "license", "delete_by_subject", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormLicenseRepository) ListAll(ctx context.Context) ([]domain.LicenseRecord, error) {
	var recs []domain.LicenseRecord
	err := r.db.WithContext(ctx).Order("subject_id").Find(&recs).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "list_all", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "list_all", "success")
	return recs, nil
}

func (r *GormLicenseRepository) ListActive(ctx context.Context, now time.Time) ([]domain.LicenseRecord, error) {
	var recs []domain.LicenseRecord
	err := r.db.WithContext(ctx).
		Where("expires_at >= ?", now).
		Order("expires_at").
		Find(&recs).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "list_active", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "list_active", "success")
	return recs, nil
}
