package handler

import (
	"context"
	"net/http"

	"bidding-settlement/internal/ledger"
	model "bidding-settlement/internal/models"
	"bidding-settlement/services/bidding/helpers"
	"bidding-settlement/utils"

	"github.com/gin-gonic/gin"
)

type WalletServiceInterface interface {
	AddFunds(ctx context.Context, userID string, amount model.Money) (model.Money, error)
	Wallet(ctx context.Context, userID string) (ledger.Statement, error)
}

type WalletHandler struct {
	service WalletServiceInterface
}

func NewWalletHandler(service WalletServiceInterface) *WalletHandler {
	return &WalletHandler{service: service}
}

// GetWalletHandler handles GET /users/:user_id/wallet
func (h *WalletHandler) GetWalletHandler(c *gin.Context) {
	userID := c.Param("user_id")
	st, err := h.service.Wallet(c.Request.Context(), userID)
	if err != nil {
		helpers.RespondError(c, "GetWalletHandler", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, st, "wallet retrieved successfully")
}

// AddFundsHandler handles POST /users/:user_id/wallet/funds
func (h *WalletHandler) AddFundsHandler(c *gin.Context) {
	userID := c.Param("user_id")

	var req helpers.AddFundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "AddFundsHandler", err)
		return
	}

	balance, err := h.service.AddFunds(c.Request.Context(), userID, req.Amount)
	if err != nil {
		helpers.RespondError(c, "AddFundsHandler", err, map[string]any{
			"user_id": userID,
			"amount":  req.Amount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.FundsResponse{UserID: userID, Balance: balance}, "funds added successfully")
	helpers.LogSuccess("AddFundsHandler", "funds added successfully", map[string]any{
		"user_id": userID,
		"amount":  req.Amount.String(),
		"balance": balance.String(),
	})
}
