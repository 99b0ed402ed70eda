package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/viralcut/viralcut-backend/internal/http/response"
	"github.com/viralcut/viralcut-backend/internal/pkg/ctxutil"
	"github.com/viralcut/viralcut-backend/internal/services"
)

type CreditHandler struct {
	creditService services.CreditService
}

func NewCreditHandler(creditService services.CreditService) *CreditHandler {
	return &CreditHandler{creditService: creditService}
}

func (ch *CreditHandler) Balance(c *gin.Context) {
	userID := ctxutil.UserID(c.Request.Context())
	balance, err := ch.creditService.Balance(c.Request.Context(), userID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"credits": balance})
}

func (ch *CreditHandler) Ledger(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	userID := ctxutil.UserID(c.Request.Context())
	entries, err := ch.creditService.Ledger(c.Request.Context(), userID, limit)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"entries": entries})
}
