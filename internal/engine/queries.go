package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ratings-backend/internal/apierr"
	"ratings-backend/internal/models"
)

// DoctorInfo returns the identity record for one doctor.
func (e *Engine) DoctorInfo(ctx context.Context, doctorID uuid.UUID) (*models.Doctor, error) {
	return e.loadDoctor(ctx, e.db, doctorID)
}

// ListDoctors returns one page of doctors plus the total count.
func (e *Engine) ListDoctors(ctx context.Context, page, pageSize int) ([]models.Doctor, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	var total int64
	if err := e.db.WithContext(ctx).Model(&models.Doctor{}).Count(&total).Error; err != nil {
		return nil, 0, apierr.Internal(err)
	}
	var doctors []models.Doctor
	if err := e.db.WithContext(ctx).
		Order("registered_at ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&doctors).Error; err != nil {
		return nil, 0, apierr.Internal(err)
	}
	return doctors, total, nil
}

// Aggregate returns the doctor's current aggregate, revealed or not.
func (e *Engine) Aggregate(ctx context.Context, doctorID uuid.UUID) (*models.AggregatedRating, error) {
	var aggregate models.AggregatedRating
	if err := e.db.WithContext(ctx).First(&aggregate, "doctor_id = ?", doctorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("doctor %s not found", doctorID)
		}
		return nil, apierr.Internal(err)
	}
	return &aggregate, nil
}

// HasReviewed reports whether the user already submitted a review for the
// doctor.
func (e *Engine) HasReviewed(ctx context.Context, userID, doctorID uuid.UUID) (bool, error) {
	var count int64
	if err := e.db.WithContext(ctx).Model(&models.Review{}).
		Where("doctor_id = ? AND submitter_id = ?", doctorID, userID).
		Count(&count).Error; err != nil {
		return false, apierr.Internal(err)
	}
	return count > 0, nil
}

// ReviewCount counts the stored review rows for the doctor.
func (e *Engine) ReviewCount(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	if _, err := e.loadDoctor(ctx, e.db, doctorID); err != nil {
		return 0, err
	}
	var count int64
	if err := e.db.WithContext(ctx).Model(&models.Review{}).
		Where("doctor_id = ?", doctorID).
		Count(&count).Error; err != nil {
		return 0, apierr.Internal(err)
	}
	return count, nil
}
