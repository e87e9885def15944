package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ratings-backend/internal/apierr"
	"ratings-backend/internal/events"
	"ratings-backend/internal/fhe"
	"ratings-backend/internal/models"
)

// Eligibility reports whether a doctor may enter a new aggregation round and
// why not otherwise. Evaluating it never mutates state.
type Eligibility struct {
	Eligible         bool       `json:"eligible"`
	NoPendingRequest bool       `json:"no_pending_request"`
	ThresholdMet     bool       `json:"threshold_met"`
	CooldownElapsed  bool       `json:"cooldown_elapsed"`
	ReviewCount      int        `json:"review_count"`
	ReviewThreshold  int        `json:"review_threshold"`
	CooldownEndsAt   *time.Time `json:"cooldown_ends_at,omitempty"`
}

// CheckEligibility exposes the aggregation predicate for external polling.
func (e *Engine) CheckEligibility(ctx context.Context, doctorID uuid.UUID) (*Eligibility, error) {
	doctor, err := e.loadDoctor(ctx, e.db, doctorID)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, e.db, doctor)
}

func (e *Engine) evaluate(ctx context.Context, tx *gorm.DB, doctor *models.Doctor) (*Eligibility, error) {
	out := &Eligibility{
		ReviewCount:     doctor.ReviewCount,
		ReviewThreshold: e.cfg.ReviewThreshold,
	}

	var pending int64
	if err := tx.WithContext(ctx).Model(&models.AggregationRequest{}).
		Where("status = ?", models.AggregationStatusPending).
		Count(&pending).Error; err != nil {
		return nil, apierr.Internal(err)
	}
	out.NoPendingRequest = pending == 0
	out.ThresholdMet = doctor.ReviewCount >= e.cfg.ReviewThreshold

	var aggregate models.AggregatedRating
	if err := tx.WithContext(ctx).First(&aggregate, "doctor_id = ?", doctor.ID).Error; err != nil {
		return nil, apierr.Internal(err)
	}
	out.CooldownElapsed = true
	if aggregate.Revealed && aggregate.LastUpdated != nil {
		ends := aggregate.LastUpdated.Add(e.cfg.RevealCooldown)
		if e.now().Before(ends) {
			out.CooldownElapsed = false
			out.CooldownEndsAt = &ends
		}
	}

	out.Eligible = out.NoPendingRequest && out.ThresholdMet && out.CooldownElapsed
	return out, nil
}

// RequestAggregation starts one batched decryption round for the doctor. The
// handles of every review are collected in review order, four per review in
// the fixed dimension order, and shipped to the vault as a single request.
// The pending request row is recorded before this returns.
func (e *Engine) RequestAggregation(ctx context.Context, actorID, doctorID uuid.UUID) (*models.AggregationRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	doctor, err := e.loadDoctor(ctx, e.db, doctorID)
	if err != nil {
		return nil, err
	}
	elig, err := e.evaluate(ctx, e.db, doctor)
	if err != nil {
		return nil, err
	}
	switch {
	case !elig.NoPendingRequest:
		return nil, apierr.StateConflict("another aggregation is already in flight")
	case !elig.ThresholdMet:
		return nil, apierr.StateConflict("review threshold not met: have %d, need %d", elig.ReviewCount, elig.ReviewThreshold)
	case !elig.CooldownElapsed:
		return nil, apierr.StateConflict("reveal cooldown active until %s", elig.CooldownEndsAt.UTC().Format(time.RFC3339))
	}

	var reviews []models.Review
	if err := e.db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Order("created_at ASC, id ASC").
		Find(&reviews).Error; err != nil {
		return nil, apierr.Internal(err)
	}
	if len(reviews) != doctor.ReviewCount {
		return nil, apierr.Internal(errors.New("review count out of sync with review rows"))
	}

	handles := make([]fhe.Handle, 0, len(reviews)*ratingDimensions)
	for _, r := range reviews {
		handles = append(handles,
			fhe.Handle(r.OverallHandle),
			fhe.Handle(r.ProfessionalismHandle),
			fhe.Handle(r.CommunicationHandle),
			fhe.Handle(r.WaitTimeHandle),
		)
	}

	requestID, err := e.vault.RequestDecryption(ctx, handles, e.cfg.CallbackURL)
	if err != nil {
		return nil, apierr.Internal(err)
	}

	now := e.now()
	request := &models.AggregationRequest{
		ID:          uuid.New(),
		RequestID:   requestID,
		DoctorID:    doctorID,
		ReviewCount: len(reviews),
		Status:      models.AggregationStatusPending,
		ExpiresAt:   now.Add(e.cfg.AggregationTTL),
		CreatedAt:   now,
	}
	msg := events.Message{
		Type:     models.EventAggregationRequested,
		DoctorID: &doctorID,
		ActorID:  &actorID,
		Data: map[string]any{
			"request_id":   requestID,
			"review_count": len(reviews),
		},
		At: now,
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(request).Error; err != nil {
			return apierr.Internal(err)
		}
		return e.persistEvent(tx, msg)
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, msg)
	e.log.Info("aggregation requested", "doctor_id", doctorID, "request_id", requestID, "review_count", len(reviews))
	return request, nil
}

// CompleteAggregation is the decryption callback. The proof is verified
// before anything else; the callback is not trusted merely because it reached
// this entry point. The request id resolves the target doctor explicitly, so
// stale or duplicate deliveries are rejected instead of updating the wrong
// aggregate.
func (e *Engine) CompleteAggregation(ctx context.Context, requestID string, cleartexts []int64, proof []byte) (*models.AggregatedRating, error) {
	valid, err := e.vault.Verify(ctx, requestID, cleartexts, proof)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if !valid {
		return nil, apierr.Integrity("decryption proof rejected for request %s", requestID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var request models.AggregationRequest
	if err := e.db.WithContext(ctx).First(&request, "request_id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.Integrity("unknown decryption request id %s", requestID)
		}
		return nil, apierr.Internal(err)
	}
	if request.Status != models.AggregationStatusPending {
		return nil, apierr.Integrity("request %s is %s, not pending", requestID, request.Status)
	}

	if len(cleartexts) == 0 || len(cleartexts)%ratingDimensions != 0 {
		return nil, apierr.Integrity("cleartext bundle length %d is not a non-zero multiple of %d", len(cleartexts), ratingDimensions)
	}
	reviewCount := len(cleartexts) / ratingDimensions
	if reviewCount != request.ReviewCount {
		return nil, apierr.Integrity("cleartext bundle covers %d reviews, request recorded %d", reviewCount, request.ReviewCount)
	}

	means := dimensionMeans(cleartexts)
	now := e.now()

	msg := events.Message{
		Type:     models.EventRatingRevealed,
		DoctorID: &request.DoctorID,
		Data: map[string]any{
			"request_id":   requestID,
			"avg_overall":  means[0],
			"review_count": reviewCount,
		},
		At: now,
	}
	var aggregate models.AggregatedRating
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&aggregate, "doctor_id = ?", request.DoctorID).Error; err != nil {
			return apierr.Internal(err)
		}
		updates := map[string]any{
			"avg_overall":         means[0],
			"avg_professionalism": means[1],
			"avg_communication":   means[2],
			"avg_wait_time":       means[3],
			"total_reviews":       reviewCount,
			"revealed":            true,
			"last_updated":        now,
		}
		if err := tx.Model(&aggregate).Updates(updates).Error; err != nil {
			return apierr.Internal(err)
		}
		if err := tx.Model(&request).Updates(map[string]any{
			"status":       models.AggregationStatusCompleted,
			"completed_at": now,
		}).Error; err != nil {
			return apierr.Internal(err)
		}
		return e.persistEvent(tx, msg)
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, msg)
	e.log.Info("rating revealed", "doctor_id", request.DoctorID, "request_id", requestID, "avg_overall", means[0])

	if err := e.db.WithContext(ctx).First(&aggregate, "doctor_id = ?", request.DoctorID).Error; err != nil {
		return nil, apierr.Internal(err)
	}
	return &aggregate, nil
}

// AbandonAggregation clears a pending request whose expiry has passed,
// freeing the single in-flight slot when the oracle never answered. Live
// requests cannot be abandoned.
func (e *Engine) AbandonAggregation(ctx context.Context, actorID uuid.UUID, requestID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var request models.AggregationRequest
	if err := e.db.WithContext(ctx).First(&request, "request_id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NotFound("aggregation request %s not found", requestID)
		}
		return apierr.Internal(err)
	}
	if request.Status != models.AggregationStatusPending {
		return apierr.StateConflict("request %s is %s, not pending", requestID, request.Status)
	}
	now := e.now()
	if now.Before(request.ExpiresAt) {
		return apierr.StateConflict("request %s not expired until %s", requestID, request.ExpiresAt.UTC().Format(time.RFC3339))
	}

	msg := events.Message{
		Type:     models.EventAggregationAbandoned,
		DoctorID: &request.DoctorID,
		ActorID:  &actorID,
		Data:     map[string]any{"request_id": requestID},
		At:       now,
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&request).Update("status", models.AggregationStatusAbandoned).Error; err != nil {
			return apierr.Internal(err)
		}
		return e.persistEvent(tx, msg)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, msg)
	e.log.Warn("aggregation abandoned", "doctor_id", request.DoctorID, "request_id", requestID)
	return nil
}

// dimensionMeans computes the truncating integer mean of each dimension
// across all reviews in the bundle. values is review-major: four entries per
// review in the fixed dimension order.
func dimensionMeans(values []int64) [ratingDimensions]int {
	var sums [ratingDimensions]int64
	n := int64(len(values) / ratingDimensions)
	for i, v := range values {
		sums[i%ratingDimensions] += v
	}
	var means [ratingDimensions]int
	for i := range sums {
		means[i] = int(sums[i] / n)
	}
	return means
}

func (e *Engine) loadDoctor(ctx context.Context, tx *gorm.DB, doctorID uuid.UUID) (*models.Doctor, error) {
	var doctor models.Doctor
	if err := tx.WithContext(ctx).First(&doctor, "id = ?", doctorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("doctor %s not found", doctorID)
		}
		return nil, apierr.Internal(err)
	}
	return &doctor, nil
}
