package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/collabstore/internal/auth"
	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionUserPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		badRequest(c, "invalid_request")
		return
	}
	hash, err := auth.HashPassword(request.Password)
	if err != nil {
		badRequest(c, "invalid_password")
		return
	}

	user, err := h.resolver.SignUp(c.Request.Context(), request.Email, hash)
	if err != nil {
		h.writeError(c, err)
		return
	}
	token, _, err := h.sessions.Issue(user.ID, user.Email)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"user": user.Public(), "token": token})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}

	user, found, err := h.resolver.UserWithEmail(request.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found || user.Type != model.UserTypeStandard || user.Status != model.UserStatusActive {
		h.rejectLogin(c)
		return
	}
	if err := auth.ComparePassword(user.Password, request.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			h.logger.Error("password comparison failed", zap.Error(err))
		}
		h.rejectLogin(c)
		return
	}

	token, _, err := h.sessions.Issue(user.ID, user.Email)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.setSessionCookie(c, token)
	c.JSON(http.StatusOK, user.Public())
}

func (h *httpHandler) rejectLogin(c *gin.Context) {
	h.clearSessionCookie(c)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.clearSessionCookie(c)
	c.Status(http.StatusOK)
}

func (h *httpHandler) handleSession(c *gin.Context) {
	claims := sessionFrom(c)
	token, _ := c.Cookie(h.sessions.CookieName())
	c.JSON(http.StatusOK, gin.H{
		"user":  sessionUserPayload{ID: claims.UserID, Email: claims.Email},
		"token": token,
	})
}
