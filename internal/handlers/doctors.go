package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ratings-backend/internal/engine"
	"ratings-backend/internal/logger"
	"ratings-backend/internal/middleware"
)

type DoctorHandler struct {
	engine *engine.Engine
	log    *logger.Logger
}

func NewDoctorHandler(eng *engine.Engine, log *logger.Logger) *DoctorHandler {
	return &DoctorHandler{engine: eng, log: log.With("handler", "DoctorHandler")}
}

type RegisterDoctorRequest struct {
	Name      string  `json:"name" binding:"required"`
	Specialty *string `json:"specialty"`
}

// Register creates a doctor record. Operator-only (enforced by the router).
func (dh *DoctorHandler) Register(c *gin.Context) {
	var req RegisterDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doctor, err := dh.engine.RegisterDoctor(c.Request.Context(), middleware.UserID(c), req.Name, req.Specialty)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"doctor": doctor})
}

// Get returns one doctor's identity record.
func (dh *DoctorHandler) Get(c *gin.Context) {
	doctorID, ok := parseDoctorID(c)
	if !ok {
		return
	}
	doctor, err := dh.engine.DoctorInfo(c.Request.Context(), doctorID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"doctor": doctor})
}

// List returns a page of doctors.
func (dh *DoctorHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	doctors, total, err := dh.engine.ListDoctors(c.Request.Context(), page, pageSize)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"doctors":   doctors,
	})
}

// GetAggregate returns the doctor's current aggregate with its revealed flag.
func (dh *DoctorHandler) GetAggregate(c *gin.Context) {
	doctorID, ok := parseDoctorID(c)
	if !ok {
		return
	}
	aggregate, err := dh.engine.Aggregate(c.Request.Context(), doctorID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"aggregate": aggregate})
}

func parseDoctorID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("doctor_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid doctor id format"})
		return uuid.Nil, false
	}
	return id, true
}
