package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) AgingReport(c *gin.Context) {
	asOf := s.clk.Now()
	if parsed, err := queryDate(c, "as_of"); err != nil {
		AbortWithError(c, err)
		return
	} else if parsed != nil {
		asOf = *parsed
	}

	report, err := s.invoiceSvc.AgingReport(c.Request.Context(), asOf)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
