package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ratings-backend/internal/engine"
	"ratings-backend/internal/logger"
	"ratings-backend/internal/middleware"
)

type ReviewHandler struct {
	engine *engine.Engine
	log    *logger.Logger
}

func NewReviewHandler(eng *engine.Engine, log *logger.Logger) *ReviewHandler {
	return &ReviewHandler{engine: eng, log: log.With("handler", "ReviewHandler")}
}

type SubmitReviewRequest struct {
	Overall         int    `json:"overall" binding:"required"`
	Professionalism int    `json:"professionalism" binding:"required"`
	Communication   int    `json:"communication" binding:"required"`
	WaitTime        int    `json:"wait_time" binding:"required"`
	Comment         string `json:"comment"`
}

// Submit encrypts and stores one review for the doctor in the path. The
// response carries handles only, never rating values.
func (rh *ReviewHandler) Submit(c *gin.Context) {
	doctorID, ok := parseDoctorID(c)
	if !ok {
		return
	}
	var req SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	review, err := rh.engine.SubmitReview(c.Request.Context(), middleware.UserID(c), doctorID, engine.ReviewInput{
		Overall:         req.Overall,
		Professionalism: req.Professionalism,
		Communication:   req.Communication,
		WaitTime:        req.WaitTime,
		Comment:         req.Comment,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"review": review})
}

// Mine reports whether the caller already reviewed the doctor.
func (rh *ReviewHandler) Mine(c *gin.Context) {
	doctorID, ok := parseDoctorID(c)
	if !ok {
		return
	}
	reviewed, err := rh.engine.HasReviewed(c.Request.Context(), middleware.UserID(c), doctorID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"reviewed": reviewed})
}

// Count returns the number of stored reviews for the doctor.
func (rh *ReviewHandler) Count(c *gin.Context) {
	doctorID, ok := parseDoctorID(c)
	if !ok {
		return
	}
	count, err := rh.engine.ReviewCount(c.Request.Context(), doctorID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"count": count})
}
