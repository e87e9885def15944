package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"ratings-backend/internal/apierr"
	"ratings-backend/internal/events"
	"ratings-backend/internal/fhe"
	"ratings-backend/internal/logger"
	"ratings-backend/internal/models"
)

// ratingDimensions is the fixed per-review dimension count and order:
// overall, professionalism, communication, wait time.
const ratingDimensions = 4

// Config carries the workflow tuning knobs.
type Config struct {
	ReviewThreshold  int
	RevealCooldown   time.Duration
	AggregationTTL   time.Duration
	MaxCommentLength int
	CallbackURL      string
	EnginePrincipal  string
}

// Engine implements the rating aggregation workflow: encrypted review
// submission, threshold-gated aggregation requests, and the asynchronous
// decryption callback that reveals per-dimension averages.
type Engine struct {
	db    *gorm.DB
	log   *logger.Logger
	vault fhe.Vault
	bus   events.Bus
	cfg   Config

	// mu serializes all mutating operations. The pending aggregation_request
	// row is the in-flight marker; the mutex makes checking and setting it
	// one step even when the host runs handlers concurrently.
	mu sync.Mutex

	now func() time.Time
}

func New(db *gorm.DB, baseLog *logger.Logger, vault fhe.Vault, bus events.Bus, cfg Config) *Engine {
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = 3
	}
	if cfg.RevealCooldown <= 0 {
		cfg.RevealCooldown = 7 * 24 * time.Hour
	}
	if cfg.AggregationTTL <= 0 {
		cfg.AggregationTTL = 30 * time.Minute
	}
	if cfg.MaxCommentLength <= 0 {
		cfg.MaxCommentLength = 500
	}
	if bus == nil {
		bus = events.NewNopBus()
	}
	return &Engine{
		db:    db,
		log:   baseLog.With("service", "AggregationEngine"),
		vault: vault,
		bus:   bus,
		cfg:   cfg,
		now:   time.Now,
	}
}

// RegisterDoctor creates the doctor identity record together with its zeroed,
// unrevealed aggregate row.
func (e *Engine) RegisterDoctor(ctx context.Context, actorID uuid.UUID, name string, specialty *string) (*models.Doctor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierr.Validation("doctor name must not be empty")
	}

	now := e.now()
	doctor := &models.Doctor{
		ID:           uuid.New(),
		Name:         name,
		Specialty:    specialty,
		RegisteredAt: now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	msg := events.Message{
		Type:     models.EventDoctorRegistered,
		DoctorID: &doctor.ID,
		ActorID:  &actorID,
		Data:     map[string]any{"name": name},
		At:       now,
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doctor).Error; err != nil {
			return apierr.Internal(err)
		}
		aggregate := &models.AggregatedRating{
			ID:       uuid.New(),
			DoctorID: doctor.ID,
		}
		if err := tx.Create(aggregate).Error; err != nil {
			return apierr.Internal(err)
		}
		return e.persistEvent(tx, msg)
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, msg)
	e.log.Info("doctor registered", "doctor_id", doctor.ID)
	return doctor, nil
}

// ReviewInput is one reviewer's plaintext submission. It only exists in
// memory on the way into the vault.
type ReviewInput struct {
	Overall         int
	Professionalism int
	Communication   int
	WaitTime        int
	Comment         string
}

// SubmitReview validates the input, encrypts each rating dimension, grants
// the engine and the submitter access to the resulting handles, and appends
// the review to the doctor's list. Exactly one review per (submitter, doctor)
// pair is allowed.
func (e *Engine) SubmitReview(ctx context.Context, submitterID, doctorID uuid.UUID, in ReviewInput) (*models.Review, error) {
	for _, r := range []struct {
		name  string
		value int
	}{
		{"overall", in.Overall},
		{"professionalism", in.Professionalism},
		{"communication", in.Communication},
		{"wait_time", in.WaitTime},
	} {
		if r.value < 1 || r.value > 5 {
			return nil, apierr.Validation("%s rating must be between 1 and 5, got %d", r.name, r.value)
		}
	}
	if n := utf8.RuneCountInString(in.Comment); n > e.cfg.MaxCommentLength {
		return nil, apierr.Validation("comment too long: %d characters, limit %d", n, e.cfg.MaxCommentLength)
	}

	var doctor models.Doctor
	if err := e.db.WithContext(ctx).First(&doctor, "id = ?", doctorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("doctor %s not found", doctorID)
		}
		return nil, apierr.Internal(err)
	}

	var existing int64
	if err := e.db.WithContext(ctx).Model(&models.Review{}).
		Where("doctor_id = ? AND submitter_id = ?", doctorID, submitterID).
		Count(&existing).Error; err != nil {
		return nil, apierr.Internal(err)
	}
	if existing > 0 {
		return nil, apierr.StateConflict("submitter has already reviewed this doctor")
	}

	// Encrypt outside the transaction: these are remote vault calls. If the
	// transaction below fails the handles are simply never referenced.
	handles, err := e.encryptRatings(ctx, submitterID, in)
	if err != nil {
		return nil, err
	}

	now := e.now()
	review := &models.Review{
		ID:                    uuid.New(),
		DoctorID:              doctorID,
		SubmitterID:           submitterID,
		OverallHandle:         string(handles[0]),
		ProfessionalismHandle: string(handles[1]),
		CommunicationHandle:   string(handles[2]),
		WaitTimeHandle:        string(handles[3]),
		Comment:               in.Comment,
		CreatedAt:             now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	msg := events.Message{
		Type:     models.EventReviewSubmitted,
		DoctorID: &doctorID,
		ActorID:  &submitterID,
		Data:     map[string]any{"review_id": review.ID.String()},
		At:       now,
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(review).Error; err != nil {
			if isUniqueViolation(err) {
				return apierr.StateConflict("submitter has already reviewed this doctor")
			}
			return apierr.Internal(err)
		}
		if err := tx.Model(&models.Doctor{}).Where("id = ?", doctorID).
			UpdateColumn("review_count", gorm.Expr("review_count + 1")).Error; err != nil {
			return apierr.Internal(err)
		}
		return e.persistEvent(tx, msg)
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, msg)
	e.log.Info("review submitted", "doctor_id", doctorID, "review_id", review.ID)
	return review, nil
}

// encryptRatings returns the four handles in the fixed dimension order, each
// readable by the engine principal and by the submitter.
func (e *Engine) encryptRatings(ctx context.Context, submitterID uuid.UUID, in ReviewInput) ([ratingDimensions]fhe.Handle, error) {
	var handles [ratingDimensions]fhe.Handle
	values := [ratingDimensions]int{in.Overall, in.Professionalism, in.Communication, in.WaitTime}
	for i, v := range values {
		h, err := e.vault.Encrypt(ctx, uint8(v))
		if err != nil {
			return handles, apierr.Internal(err)
		}
		if err := e.vault.GrantAccess(ctx, h, e.cfg.EnginePrincipal); err != nil {
			return handles, apierr.Internal(err)
		}
		if err := e.vault.GrantAccess(ctx, h, submitterID.String()); err != nil {
			return handles, apierr.Internal(err)
		}
		handles[i] = h
	}
	return handles, nil
}

func (e *Engine) persistEvent(tx *gorm.DB, msg events.Message) error {
	payload, err := json.Marshal(msg.Data)
	if err != nil {
		return apierr.Internal(err)
	}
	row := &models.Event{
		ID:        uuid.New(),
		Type:      msg.Type,
		DoctorID:  msg.DoctorID,
		ActorID:   msg.ActorID,
		Data:      datatypes.JSON(payload),
		CreatedAt: msg.At,
	}
	if err := tx.Create(row).Error; err != nil {
		return apierr.Internal(err)
	}
	return nil
}

// publish is best effort; a down bus must not fail the operation.
func (e *Engine) publish(ctx context.Context, msg events.Message) {
	if err := e.bus.Publish(ctx, msg); err != nil {
		e.log.Warn("event publish failed", "type", msg.Type, "error", err)
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint failed") ||
		strings.Contains(s, "duplicate key value violates unique constraint")
}
