package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orphandomain "github.com/reachforge/reachforge/internal/orphan/domain"
	"go.uber.org/zap"
)

type deadLetterResponse struct {
	ID         string     `json:"id"`
	OrphanID   string     `json:"orphan_id"`
	Payload    any        `json:"payload"`
	RetryCount int        `json:"retry_count"`
	Reason     string     `json:"reason"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

func (s *Server) handleListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, err := s.deadLetterSvc.List(c.Request.Context(), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]deadLetterResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toDeadLetterResponse(record))
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": out})
}

func (s *Server) handleReplayDeadLetter(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid dead letter id"))
		return
	}

	result, err := s.deadLetterSvc.Replay(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("dead letter replay requested",
		zap.String("dead_letter_id", id.String()),
		zap.String("outcome", string(result.Outcome)),
	)

	resp := gin.H{"status": string(result.Outcome)}
	if result.Event != nil {
		resp["event_id"] = result.Event.ID.String()
	}
	c.JSON(http.StatusOK, resp)
}

func toDeadLetterResponse(record orphandomain.DeadLetterEvent) deadLetterResponse {
	return deadLetterResponse{
		ID:         record.ID.String(),
		OrphanID:   record.OrphanID.String(),
		Payload:    record.Payload,
		RetryCount: record.RetryCount,
		Reason:     record.Reason,
		FailedAt:   record.FailedAt,
		ReplayedAt: record.ReplayedAt,
	}
}
