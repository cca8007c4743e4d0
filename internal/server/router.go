package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/versuslab/versus/backend/internal/articles"
	"github.com/versuslab/versus/backend/internal/identity"
	"github.com/versuslab/versus/backend/internal/notifications"
	"github.com/versuslab/versus/backend/internal/storage"
	"github.com/versuslab/versus/backend/internal/votes"
)

const userIDContextKey = "versus_user_id"

// genericErrorMessage is what storage failures look like from the outside;
// the detail stays in the logs.
const genericErrorMessage = "something went wrong, try again"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingIdentity      = errors.New("identity service dependency required")
	errMissingVotes         = errors.New("votes service dependency required")
	errMissingNotifications = errors.New("notifications service dependency required")
	errMissingArticles      = errors.New("articles service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates session tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	Tokens        TokenManager
	Identity      *identity.Service
	Votes         *votes.Service
	Notifications *notifications.Service
	Articles      *articles.Service
	Media         storage.ObjectStore
	MediaDir      string
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router for the versus API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Identity == nil {
		return nil, errMissingIdentity
	}
	if deps.Votes == nil {
		return nil, errMissingVotes
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Articles == nil {
		return nil, errMissingArticles
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.Tokens,
		identity:      deps.Identity,
		votes:         deps.Votes,
		notifications: deps.Notifications,
		articles:      deps.Articles,
		media:         deps.Media,
		logger:        logger,
	}

	router.POST("/auth/signup", handler.handleSignup)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/leaderboard", handler.handleLeaderboard)
	router.GET("/articles", handler.handleListArticles)
	router.GET("/articles/:id", handler.handleGetArticle)
	if deps.MediaDir != "" {
		router.Static("/media", deps.MediaDir)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/versus/pair", handler.handleSelectPair)
	protected.POST("/versus/vote", handler.handleRecordVote)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/read", handler.handleMarkNotificationsRead)
	protected.GET("/notifications/unread_count", handler.handleUnreadCount)
	protected.GET("/notifications/stream", handler.handleNotificationStream)
	protected.GET("/profile", handler.handleGetProfile)
	protected.PUT("/profile", handler.handleUpdateProfile)
	protected.POST("/profile/password", handler.handleChangePassword)
	protected.POST("/profile/avatar", handler.handleUploadAvatar)
	protected.DELETE("/profile/avatar", handler.handleDeleteAvatar)
	protected.DELETE("/profile", handler.handleDeleteAccount)
	protected.POST("/articles", handler.handleUpsertArticle)
	protected.PUT("/articles/:id", handler.handleUpsertArticle)
	protected.DELETE("/articles/:id", handler.handleDeleteArticle)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	identity      *identity.Service
	votes         *votes.Service
	notifications *notifications.Service
	articles      *articles.Service
	media         storage.ObjectStore
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	default:
		// EventSource cannot set headers, so the stream route passes the
		// token as a query parameter.
		token = strings.TrimSpace(c.Query("access_token"))
	}
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

type credentialsPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionPayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	User        profilePayload `json:"user"`
}

type profilePayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Votes     int64  `json:"votes"`
	Role      string `json:"role"`
}

func (h *httpHandler) profilePayload(p identity.Profile) profilePayload {
	avatarURL := ""
	if p.AvatarPath != "" && h.media != nil {
		avatarURL = h.media.PublicURL(p.AvatarPath)
	}
	return profilePayload{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		AvatarURL: avatarURL,
		Votes:     p.Votes,
		Role:      p.Role,
	}
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.identity.Register(c.Request.Context(), request.Name, request.Email, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(err, identity.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("signup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		}
		return
	}
	h.respondWithSession(c, http.StatusCreated, profile)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.identity.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	h.respondWithSession(c, http.StatusOK, profile)
}

func (h *httpHandler) respondWithSession(c *gin.Context, status int, profile identity.Profile) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), profile.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.JSON(status, sessionPayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        h.profilePayload(profile),
	})
}

func (h *httpHandler) handleSelectPair(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	first, second, err := h.votes.SelectPair(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, votes.ErrInsufficientCandidates) {
			// A valid empty state, not an error: the client renders a
			// "not enough users yet" panel.
			c.JSON(http.StatusOK, gin.H{"users": nil})
			return
		}
		h.logger.Error("pair selection failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": []votes.ProfileCard{first, second}})
}

type votePayload struct {
	VotedForID string `json:"voted_for_id"`
}

func (h *httpHandler) handleRecordVote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.VotedForID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.votes.RecordVote(c.Request.Context(), userID, request.VotedForID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{})
	case errors.Is(err, votes.ErrSelfVote):
		c.JSON(http.StatusConflict, gin.H{"error": "You cannot vote for yourself."})
	case errors.Is(err, votes.ErrDuplicateVote):
		c.JSON(http.StatusConflict, gin.H{"error": "You already voted for this user."})
	case errors.Is(err, votes.ErrUnknownProfile):
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found."})
	default:
		h.logger.Error("vote recording failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
	}
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	entries, err := h.votes.Leaderboard(c.Request.Context())
	if err != nil {
		h.logger.Error("leaderboard query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

type notificationPayload struct {
	ID               string `json:"id"`
	Message          string `json:"message"`
	ActorName        string `json:"actor_name"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	IsRead           bool   `json:"is_read"`
}

func notificationToPayload(n notifications.Notification) notificationPayload {
	return notificationPayload{
		ID:               n.ID,
		Message:          n.Message(),
		ActorName:        n.ActorName,
		CreatedAtSeconds: n.CreatedAt.Unix(),
		IsRead:           n.IsRead,
	}
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	since := time.Unix(0, 0)
	if raw := c.Query("since_s"); raw != "" {
		parsed, ok := parseUnixSeconds(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
			return
		}
		since = parsed
	}
	rows, err := h.notifications.ListRecent(c.Request.Context(), userID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	payload := make([]notificationPayload, 0, len(rows))
	for _, n := range rows {
		payload = append(payload, notificationToPayload(n))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": payload})
}

func (h *httpHandler) handleMarkNotificationsRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.notifications.MarkAllRead(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	count, err := h.notifications.CountUnread(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	profile, err := h.identity.Lookup(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.JSON(http.StatusOK, h.profilePayload(profile))
}

type updateProfilePayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request updateProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.identity.UpdateName(c.Request.Context(), userID, request.Name); err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		case errors.Is(err, identity.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

type changePasswordPayload struct {
	Password string `json:"password"`
}

func (h *httpHandler) handleChangePassword(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request changePasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.identity.ChangePassword(c.Request.Context(), userID, request.Password); err != nil {
		if errors.Is(err, identity.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUploadAvatar(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if h.media == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	fileHeader, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar file is required"})
		return
	}
	defer file.Close()

	path := storedObjectPath(userID, fileHeader.Filename)
	if err := h.media.Save(path, file); err != nil {
		h.logger.Error("avatar upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	previous, err := h.identity.UpdateAvatar(c.Request.Context(), userID, path)
	if err != nil {
		// Profile row did not change; drop the fresh upload instead of
		// leaving an orphan behind.
		_ = h.media.Remove(path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	if previous != "" && previous != path {
		_ = h.media.Remove(previous)
	}
	c.JSON(http.StatusOK, gin.H{"avatar_url": h.media.PublicURL(path)})
}

func (h *httpHandler) handleDeleteAvatar(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	previous, err := h.identity.ClearAvatar(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	if previous != "" && h.media != nil {
		_ = h.media.Remove(previous)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteAccount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	profile, err := h.identity.Lookup(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, identity.ErrProfileNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	if err := h.identity.Delete(c.Request.Context(), userID); err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	if profile.AvatarPath != "" && h.media != nil {
		_ = h.media.Remove(profile.AvatarPath)
	}
	c.Status(http.StatusNoContent)
}

type articlePayload struct {
	ID               string `json:"id"`
	AuthorID         string `json:"author_id"`
	Title            string `json:"title"`
	Excerpt          string `json:"excerpt,omitempty"`
	Content          string `json:"content,omitempty"`
	ImageURL         string `json:"image_url,omitempty"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func (h *httpHandler) articleToPayload(a articles.Article) articlePayload {
	imageURL := ""
	if a.ImagePath != "" && h.media != nil {
		imageURL = h.media.PublicURL(a.ImagePath)
	}
	return articlePayload{
		ID:               a.ID,
		AuthorID:         a.AuthorID,
		Title:            a.Title,
		Excerpt:          a.Excerpt,
		Content:          a.Content,
		ImageURL:         imageURL,
		CreatedAtSeconds: a.CreatedAt.Unix(),
		UpdatedAtSeconds: a.UpdatedAt.Unix(),
	}
}

func (h *httpHandler) handleListArticles(c *gin.Context) {
	rows, err := h.articles.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	payload := make([]articlePayload, 0, len(rows))
	for _, article := range rows {
		payload = append(payload, h.articleToPayload(article))
	}
	c.JSON(http.StatusOK, gin.H{"articles": payload})
}

func (h *httpHandler) handleGetArticle(c *gin.Context) {
	article, err := h.articles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, articles.ErrArticleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.JSON(http.StatusOK, h.articleToPayload(article))
}

func (h *httpHandler) handleUpsertArticle(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	request := articles.UpsertRequest{
		ID:          c.Param("id"),
		Title:       c.PostForm("title"),
		Excerpt:     c.PostForm("excerpt"),
		Content:     c.PostForm("content"),
		RemoveImage: c.PostForm("remove_image") == "true",
	}
	if fileHeader, err := c.FormFile("image"); err == nil {
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		defer file.Close()
		request.Image = &articles.ImageUpload{FileName: fileHeader.Filename, Reader: file}
	}

	article, err := h.articles.Upsert(c.Request.Context(), userID, request)
	if err != nil {
		switch {
		case errors.Is(err, articles.ErrNotAuthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": "You are not authorized to perform this action."})
		case errors.Is(err, articles.ErrMissingTitle):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required."})
		case errors.Is(err, articles.ErrArticleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		default:
			h.logger.Error("article upsert failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		}
		return
	}
	status := http.StatusOK
	if c.Request.Method == http.MethodPost {
		status = http.StatusCreated
	}
	c.JSON(status, h.articleToPayload(article))
}

func (h *httpHandler) handleDeleteArticle(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.articles.Delete(c.Request.Context(), userID, c.Param("id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, articles.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not authorized to perform this action."})
	case errors.Is(err, articles.ErrArticleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
	default:
		h.logger.Error("article delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
	}
}
