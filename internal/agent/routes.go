package agent

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/kyc-liveness/internal/apiclient"
	"github.com/example/kyc-liveness/internal/sequencer"
)

type signupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRoutes exposes the client on a local control API.
func RegisterRoutes(router *gin.Engine, app *App) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, app.Snapshot(c.Request.Context()))
	})

	router.GET("/notifications", func(c *gin.Context) {
		c.JSON(http.StatusOK, app.Notifications())
	})

	router.POST("/signup", func(c *gin.Context) {
		var req signupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "email and password are required"})
			return
		}
		user, err := app.Signup(c.Request.Context(), apiclient.SignupRequest{
			Email:    req.Email,
			Password: req.Password,
			FullName: req.FullName,
		})
		if err != nil {
			writeError(c, app, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user": user, "route": app.Route()})
	})

	router.POST("/login", func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "email and password are required"})
			return
		}
		user, err := app.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			writeError(c, app, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user, "route": app.Route()})
	})

	router.POST("/logout", func(c *gin.Context) {
		if err := app.Logout(c.Request.Context()); err != nil {
			writeError(c, app, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.GET("/dashboard", func(c *gin.Context) {
		view, err := app.Dashboard(c.Request.Context())
		if err != nil {
			writeError(c, app, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	kyc := router.Group("/kyc")
	kyc.GET("", func(c *gin.Context) {
		st, err := app.OpenVerification(c.Request.Context())
		if err != nil {
			writeError(c, app, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})
	kyc.POST("/start", func(c *gin.Context) {
		st, err := app.StartVerification(c.Request.Context())
		if err != nil {
			writeError(c, app, err)
			return
		}
		c.JSON(http.StatusAccepted, st)
	})
	kyc.POST("/reset", func(c *gin.Context) {
		c.JSON(http.StatusOK, app.ResetVerification())
	})
}

func writeError(c *gin.Context, app *App, err error) {
	status := http.StatusBadGateway
	var vErr *apiclient.ValidationError
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.Is(err, apiclient.ErrUnauthorized), errors.Is(err, ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, sequencer.ErrSessionActive):
		status = http.StatusConflict
	case errors.Is(err, sequencer.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"message": messageFor(err), "route": app.Route()})
}

func messageFor(err error) string {
	if errors.Is(err, sequencer.ErrSessionActive) || errors.Is(err, sequencer.ErrClosed) {
		return err.Error()
	}
	return UserMessage(err)
}
