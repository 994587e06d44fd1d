package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/collabstore/internal/auth"
	"github.com/MarcoPoloResearchLab/collabstore/internal/files"
	"github.com/MarcoPoloResearchLab/collabstore/internal/resolvers"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionClaimsContextKey = "collabstore_session"
	maxUploadBytes          = 64 << 20
)

var (
	errMissingResolver = errors.New("resolver dependency required")
	errMissingSessions = errors.New("session manager dependency required")
	errMissingFiles    = errors.New("file storage dependency required")
)

type Dependencies struct {
	Resolver *resolvers.Resolver
	Sessions *auth.SessionManager
	Files    *files.Storage
	Realtime *RealtimeDispatcher
	Logger   *zap.Logger
	// AllowedOrigins lists the browser origins permitted to send credentialed requests.
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Files == nil {
		return nil, errMissingFiles
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.MaxMultipartMemory = maxUploadBytes

	handler := &httpHandler{
		resolver:      deps.Resolver,
		sessions:      deps.Sessions,
		files:         deps.Files,
		realtime:      realtime,
		logger:        logger,
		heartbeat:     heartbeat,
		secureCookies: deps.SecureCookies,
	}

	router.StaticFS(files.URLPrefix, deps.Files.HTTPFileSystem())

	api := router.Group("/api")
	api.POST("/signup", handler.handleSignUp)
	api.POST("/login", handler.handleLogin)
	api.POST("/logout", handler.handleLogout)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/session", handler.handleSession)

	protected.GET("/documents", handler.handleListDocuments)
	protected.POST("/documents", handler.handleUploadDocument)
	byDocument := handler.requireDocumentAccess(documentFromParam)
	protected.GET("/documents/:id", byDocument, handler.handleGetDocument)
	protected.PATCH("/documents/:id", byDocument, handler.handleEditDocument)
	protected.DELETE("/documents/:id", byDocument, handler.handleDeleteDocument)
	protected.GET("/documents/:id/annotations", byDocument, handler.handleListAnnotations)
	protected.GET("/documents/:id/members", byDocument, handler.handleListDocumentMembers)
	protected.POST("/documents/:id/members", byDocument, handler.handleAddDocumentMembers)
	protected.GET("/documents/:id/unread", byDocument, handler.handleUnread)
	protected.GET("/documents/:id/events", byDocument, handler.handleDocumentEvents)

	byAnnotation := handler.requireDocumentAccess(annotationDocument)
	protected.POST("/annotations", handler.handleAddAnnotation)
	protected.PATCH("/annotations/:id", byAnnotation, handler.handleEditAnnotation)
	protected.DELETE("/annotations/:id", byAnnotation, handler.handleDeleteAnnotation)
	protected.GET("/annotations/:id/members", byAnnotation, handler.handleListAnnotationMembers)

	byDocumentMember := handler.requireDocumentAccess(documentMemberDocument)
	protected.PATCH("/document-members/:id", byDocumentMember, handler.handleEditDocumentMember)
	protected.DELETE("/document-members/:id", byDocumentMember, handler.handleDeleteDocumentMember)

	byAnnotationMember := handler.requireDocumentAccess(annotationMemberDocument)
	protected.POST("/annotation-members", handler.handleAddAnnotationMember)
	protected.PATCH("/annotation-members/:id", byAnnotationMember, handler.handleEditAnnotationMember)
	protected.DELETE("/annotation-members/:id", byAnnotationMember, handler.handleDeleteAnnotationMember)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Accept", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	resolver      *resolvers.Resolver
	sessions      *auth.SessionManager
	files         *files.Storage
	realtime      *RealtimeDispatcher
	logger        *zap.Logger
	heartbeat     time.Duration
	secureCookies bool
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionClaimsContextKey, claims)
	c.Next()
}

func sessionFrom(c *gin.Context) auth.SessionClaims {
	value, _ := c.Get(sessionClaimsContextKey)
	claims, _ := value.(auth.SessionClaims)
	return claims
}

func (h *httpHandler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(h.sessions.TTL().Seconds()), "/", "", h.secureCookies, true)
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookies, true)
}

// writeError maps resolver failures onto HTTP statuses. The body carries the service error code.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, resolvers.ErrInvalidInput), errors.Is(err, resolvers.ErrReplyCycle):
		status = http.StatusBadRequest
	case errors.Is(err, resolvers.ErrReferenceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, resolvers.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, resolvers.ErrUserExists):
		status = http.StatusUnauthorized
	case errors.Is(err, store.ErrWriteTimeout), errors.Is(err, store.ErrClosed), errors.Is(err, store.ErrWriteCanceled):
		status = http.StatusServiceUnavailable
	}

	code := "internal_error"
	var serviceErr *resolvers.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func badRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code})
}

func notFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
}
