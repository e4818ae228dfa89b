package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/usecase"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userBody struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

func (a *api) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	account, err := a.accounts.Signup(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		a.accountError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionBody(account))
}

func (a *api) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	account, err := a.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionBody(account))
}

// accountError maps account failures to 400 so the client shows the message
// instead of treating a failed login as an expired session.
func (a *api) accountError(c *gin.Context, err error) {
	var inputErr *usecase.InputError
	switch {
	case errors.As(err, &inputErr):
		c.JSON(http.StatusBadRequest, gin.H{"message": inputErr.Message})
	case errors.Is(err, usecase.ErrEmailTaken), errors.Is(err, usecase.ErrInvalidCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		a.logger.Error("account operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}

func sessionBody(account *usecase.Account) gin.H {
	return gin.H{
		"token":      account.Token,
		"expires_at": account.ExpiresAt,
		"user": userBody{
			ID:       account.User.ID,
			Email:    account.User.Email,
			FullName: account.User.FullName,
		},
	}
}
