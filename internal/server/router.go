package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MeshVSC/SparkV2/internal/notify"
	"github.com/MeshVSC/SparkV2/internal/presence"
	"github.com/MeshVSC/SparkV2/internal/sparks"
	"github.com/MeshVSC/SparkV2/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "spark_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingSparksService = errors.New("sparks service dependency required")
	errMissingHub           = errors.New("presence hub dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens that guard every
// protected route, the WebSocket upgrade included.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the application services.
type Dependencies struct {
	TokenManager  TokenManager
	Users         *users.Service
	Sparks        *sparks.Service
	Notifications *notify.Dispatcher
	Hub           *presence.Hub
	AllowedOrigin string
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the gin router for the Spark API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Sparks == nil {
		return nil, errMissingSparksService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allowedOrigin := deps.AllowedOrigin
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{allowedOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		users:         deps.Users,
		sparks:        deps.Sparks,
		notifications: deps.Notifications,
		hub:           deps.Hub,
		logger:        logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleGetProfile)
	protected.PUT("/me", handler.handleUpdateProfile)

	protected.POST("/sparks", handler.handleCreateSpark)
	protected.GET("/sparks", handler.handleListSparks)
	protected.GET("/sparks/:sparkID", handler.handleGetSpark)
	protected.PATCH("/sparks/:sparkID", handler.handleUpdateSpark)
	protected.DELETE("/sparks/:sparkID", handler.handleDeleteSpark)
	protected.PUT("/sparks/:sparkID/position", handler.handleUpdatePosition)

	protected.POST("/sparks/:sparkID/todos", handler.handleAddTodo)
	protected.POST("/sparks/:sparkID/todos/:todoID/toggle", handler.handleToggleTodo)
	protected.DELETE("/sparks/:sparkID/todos/:todoID", handler.handleDeleteTodo)

	protected.POST("/sparks/:sparkID/attachments", handler.handleAddAttachment)
	protected.DELETE("/sparks/:sparkID/attachments/:attachmentID", handler.handleRemoveAttachment)

	protected.GET("/tags", handler.handleListTags)
	protected.POST("/tags", handler.handleCreateTag)
	protected.PUT("/sparks/:sparkID/tags/:tagID", handler.handleAssignTag)
	protected.DELETE("/sparks/:sparkID/tags/:tagID", handler.handleUnassignTag)

	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/:notificationID/read", handler.handleMarkNotificationRead)

	router.GET("/ws", handler.handleWebSocket)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	users         *users.Service
	sparks        *sparks.Service
	notifications *notify.Dispatcher
	hub           *presence.Hub
	logger        *zap.Logger
}

type registerRequestPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	AvatarURL   string `json:"avatar_url"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	TokenType   string        `json:"token_type"`
	Profile     users.Profile `json:"profile"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.users.Register(c.Request.Context(), users.RegisterRequest{
		Email:       request.Email,
		DisplayName: request.DisplayName,
		Password:    request.Password,
		AvatarURL:   request.AvatarURL,
	})
	if errors.Is(err, users.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	}
	if errors.Is(err, users.ErrInvalidRegistration) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_registration"})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	h.issueAuthResponse(c, profile)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.issueAuthResponse(c, profile)
}

func (h *httpHandler) issueAuthResponse(c *gin.Context, profile users.Profile) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), profile.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Profile:     profile,
	})
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.users.Get(c.Request.Context(), c.GetString(userIDContextKey))
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

type updateProfilePayload struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request updateProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.users.UpdateProfile(c.Request.Context(), c.GetString(userIDContextKey), request.DisplayName, request.AvatarURL)
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("profile update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_update_failed"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

type createSparkPayload struct {
	WorkspaceID string  `json:"workspace_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Content     string  `json:"content"`
	Stage       string  `json:"stage"`
	PositionX   float64 `json:"position_x"`
	PositionY   float64 `json:"position_y"`
}

func (h *httpHandler) handleCreateSpark(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var request createSparkPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stage := sparks.GrowthStage("")
	if strings.TrimSpace(request.Stage) != "" {
		parsed, err := sparks.ParseStage(request.Stage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_stage"})
			return
		}
		stage = parsed
	}

	spark, err := h.sparks.CreateSpark(c.Request.Context(), sparks.CreateSparkRequest{
		UserID:      userID,
		WorkspaceID: request.WorkspaceID,
		Title:       request.Title,
		Description: request.Description,
		Content:     request.Content,
		Stage:       stage,
		PositionX:   request.PositionX,
		PositionY:   request.PositionY,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, spark)
}

func (h *httpHandler) handleListSparks(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}
	result, err := h.sparks.ListSparks(c.Request.Context(), userID, c.Query("workspace"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sparks": result})
}

func (h *httpHandler) handleGetSpark(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	spark, err := h.sparks.GetSpark(c.Request.Context(), userID, sparkID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, spark)
}

type updateSparkPayload struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Content     *string `json:"content"`
	Stage       *string `json:"stage"`
}

func (h *httpHandler) handleUpdateSpark(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	var request updateSparkPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	update := sparks.UpdateSparkRequest{
		Title:       request.Title,
		Description: request.Description,
		Content:     request.Content,
	}
	if request.Stage != nil {
		parsed, err := sparks.ParseStage(*request.Stage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_stage"})
			return
		}
		update.Stage = &parsed
	}

	spark, err := h.sparks.UpdateSpark(c.Request.Context(), userID, sparkID, update)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, spark)
}

func (h *httpHandler) handleDeleteSpark(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	if err := h.sparks.DeleteSpark(c.Request.Context(), userID, sparkID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type positionPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (h *httpHandler) handleUpdatePosition(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	var request positionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.sparks.UpdatePosition(c.Request.Context(), userID, sparkID, request.X, request.Y); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type todoPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleAddTodo(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	var request todoPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	todo, err := h.sparks.AddTodo(c.Request.Context(), userID, sparkID, request.Title)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, todo)
}

func (h *httpHandler) handleToggleTodo(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	todo, err := h.sparks.ToggleTodo(c.Request.Context(), userID, sparkID, c.Param("todoID"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (h *httpHandler) handleDeleteTodo(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	if err := h.sparks.DeleteTodo(c.Request.Context(), userID, sparkID, c.Param("todoID")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type attachmentPayload struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (h *httpHandler) handleAddAttachment(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	var request attachmentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	attachment, err := h.sparks.AddAttachment(c.Request.Context(), userID, sparkID, sparks.AttachmentRequest{
		Filename:    request.Filename,
		URL:         request.URL,
		ContentType: request.ContentType,
		SizeBytes:   request.SizeBytes,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attachment)
}

func (h *httpHandler) handleRemoveAttachment(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	if err := h.sparks.RemoveAttachment(c.Request.Context(), userID, sparkID, c.Param("attachmentID")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type tagPayload struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *httpHandler) handleCreateTag(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}
	var request tagPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tag, err := h.sparks.CreateTag(c.Request.Context(), userID, request.Name, request.Color)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}
	tags, err := h.sparks.ListTags(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func (h *httpHandler) handleAssignTag(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	if err := h.sparks.AssignTag(c.Request.Context(), userID, sparkID, c.Param("tagID")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnassignTag(c *gin.Context) {
	userID, sparkID, ok := h.requireSparkScope(c)
	if !ok {
		return
	}
	if err := h.sparks.UnassignTag(c.Request.Context(), userID, sparkID, c.Param("tagID")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	inbox, err := h.notifications.ListUnread(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("notification list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification_list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": inbox})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	err := h.notifications.MarkRead(c.Request.Context(), c.GetString(userIDContextKey), c.Param("notificationID"))
	if errors.Is(err, notify.ErrNotificationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("notification mark read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification_update_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleWebSocket authenticates the upgrade request and hands the connection
// to the presence hub. Browsers cannot set headers on WebSocket requests, so
// the bearer token may arrive as a query parameter instead.
func (h *httpHandler) handleWebSocket(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("websocket token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	displayName := h.users.DisplayName(c.Request.Context(), userID)
	if err := presence.ServeWS(h.hub, c.Writer, c.Request, userID, displayName); err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (h *httpHandler) requireUserID(c *gin.Context) (sparks.UserID, bool) {
	userID, err := sparks.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) requireSparkScope(c *gin.Context) (sparks.UserID, sparks.SparkID, bool) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return "", "", false
	}
	sparkID, err := sparks.NewSparkID(c.Param("sparkID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_spark_id"})
		return "", "", false
	}
	return userID, sparkID, true
}

// respondServiceError maps store error codes onto HTTP statuses. The
// operation.reason code doubles as the wire error so clients can branch on it.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var serviceErr *sparks.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("spark store failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	code := serviceErr.Code()
	status := http.StatusInternalServerError
	switch {
	case strings.HasSuffix(code, "not_found") || strings.HasSuffix(code, "spark_not_found") || strings.HasSuffix(code, "tag_not_found"):
		status = http.StatusNotFound
	case strings.HasSuffix(code, "missing_title") || strings.HasSuffix(code, "missing_name") ||
		strings.HasSuffix(code, "missing_fields") || strings.HasSuffix(code, "invalid_stage"):
		status = http.StatusBadRequest
	default:
		h.logger.Error("spark store failure", zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}
