package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/expertly/internal/authorization"
	"go.uber.org/zap"
)

func (s *Server) VerifyRebates(c *gin.Context) {
	report, err := s.rebateSvc.Verify(c.Request.Context(), yearMonthQuery(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) CreateRebates(c *gin.Context) {
	result, err := s.rebateSvc.CreateForYearMonth(c.Request.Context(), yearMonthQuery(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ProcessRebates reports row failures alongside the counts; only a failure
// before any row is processed becomes an error response.
func (s *Server) ProcessRebates(c *gin.Context) {
	result, err := s.rebateSvc.ProcessForYearMonth(c.Request.Context(), yearMonthQuery(c))
	if err != nil && result == nil {
		AbortWithError(c, err)
		return
	}
	if err != nil {
		s.log.Warn("rebate processing finished with errors",
			zap.String("period", result.PeriodLabel),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{
			"result": result,
			"errors": strings.Split(err.Error(), "\n"),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// RebateStatement renders the expert's statement as a PDF. Experts default to
// their own statement; other experts need the statement_any grant.
func (s *Server) RebateStatement(c *gin.Context) {
	memberID, ok := memberIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	expertID := memberID
	if raw := strings.TrimSpace(c.Query("expertId")); raw != "" {
		parsed, err := parseID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("expertId", "invalid_expert_id", "invalid expert id"))
			return
		}
		expertID = parsed
	}
	if expertID != memberID {
		actor := fmt.Sprintf("member:%s", memberID)
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectRebate, authorization.ActionRebateStatementAny); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	statement, err := s.rebateSvc.Statement(c.Request.Context(), expertID, yearMonthQuery(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, statement.FileName))
	c.Data(http.StatusOK, "application/pdf", statement.Content)
}

func yearMonthQuery(c *gin.Context) string {
	return strings.TrimSpace(c.Query("yearMonth"))
}
