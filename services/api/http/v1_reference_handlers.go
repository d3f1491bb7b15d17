package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hydrosafe/coa-dashboard/internal/refdata"
)

type parameterInfo struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	RequiredColumns []refdata.RequiredColumn `json:"required_columns"`
}

// handleV1ListParameters lists parameters with the result columns a file
// declaring them must carry
// GET /api/v1/reference/parameters
func (s *Server) handleV1ListParameters(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	ref, err := refdata.Load(ctx, s.store)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	params, err := s.store.Parameters(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]parameterInfo, 0, len(params))
	for _, p := range params {
		cols := refdata.RequiredColumns(ref, []string{p.ID})
		if cols == nil {
			cols = []refdata.RequiredColumn{}
		}
		out = append(out, parameterInfo{ID: p.ID, Name: p.Name, RequiredColumns: cols})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	c.JSON(http.StatusOK, gin.H{
		"data": out,
		"meta": gin.H{"count": len(out)},
	})
}
