package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"ratings-backend/internal/engine"
	"ratings-backend/internal/logger"
	"ratings-backend/internal/middleware"
)

type AggregationHandler struct {
	engine *engine.Engine
	log    *logger.Logger
}

func NewAggregationHandler(eng *engine.Engine, log *logger.Logger) *AggregationHandler {
	return &AggregationHandler{engine: eng, log: log.With("handler", "AggregationHandler")}
}

// Eligibility exposes the aggregation predicate for polling. Read-only.
func (agh *AggregationHandler) Eligibility(c *gin.Context) {
	doctorID, ok := parseDoctorID(c)
	if !ok {
		return
	}
	elig, err := agh.engine.CheckEligibility(c.Request.Context(), doctorID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, elig)
}

// Request starts an aggregation round for the doctor. Operator-only.
func (agh *AggregationHandler) Request(c *gin.Context) {
	doctorID, ok := parseDoctorID(c)
	if !ok {
		return
	}
	request, err := agh.engine.RequestAggregation(c.Request.Context(), middleware.UserID(c), doctorID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"request": request})
}

type CallbackRequest struct {
	RequestID  string  `json:"request_id" binding:"required"`
	Cleartexts []int64 `json:"cleartexts" binding:"required"`
	Proof      string  `json:"proof" binding:"required"`
}

// Callback is invoked by the decryption gateway with the cleartext bundle
// and its correctness proof.
func (agh *AggregationHandler) Callback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "proof must be base64"})
		return
	}
	aggregate, err := agh.engine.CompleteAggregation(c.Request.Context(), req.RequestID, req.Cleartexts, proof)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"aggregate": aggregate})
}

// Abandon clears an expired pending request. Operator-only.
func (agh *AggregationHandler) Abandon(c *gin.Context) {
	requestID := c.Param("request_id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing request id"})
		return
	}
	if err := agh.engine.AbandonAggregation(c.Request.Context(), middleware.UserID(c), requestID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "abandoned"})
}
