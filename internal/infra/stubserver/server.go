package stubserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tenantdesk/internal/domain/chat"
	"tenantdesk/internal/infra/obs"
)

// Handler implements the backend chat contract against the in-memory store.
// It exists for local development and tests; the production backend is an
// external collaborator.
type Handler struct {
	Store    *Store
	Hub      *Registry
	Logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler wires a handler over a store and socket registry.
func NewHandler(store *Store, hub *Registry, logger *slog.Logger) *Handler {
	return &Handler{
		Store:  store,
		Hub:    hub,
		Logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// NewRouter builds the gin engine with the full chat contract mounted.
func NewRouter(h *Handler, obsMW obs.Middleware, health obs.HealthHandlers, env string) *gin.Engine {
	configureGinMode(env)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1/chat")
	api.Use(h.authenticate())
	api.GET("/conversations", h.ListConversations)
	api.POST("/conversations", h.CreateConversation)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.POST("/conversations/:id/messages", h.SendMessage)
	api.POST("/conversations/:id/read", h.MarkRead)
	api.GET("/partners", h.SearchPartners)
	api.GET("/hub", h.ConnectHub)

	return router
}

// NewServer wraps the router in an http.Server bound to addr.
func NewServer(addr string, router *gin.Engine) *http.Server {
	return &http.Server{Addr: addr, Handler: router}
}

// authenticate resolves the bearer token. Stub convention: the token string
// is the user id of a seeded account.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		user, ok := h.Store.UserByID(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown session"})
			return
		}
		c.Set("user_id", user.ID)
		c.Next()
	}
}

// ListConversations returns the caller's full thread list, most recent first.
func (h *Handler) ListConversations(c *gin.Context) {
	userID := c.GetString("user_id")
	c.JSON(http.StatusOK, gin.H{"items": h.Store.Conversations(userID)})
}

// CreateConversation gets or creates the ad-hoc thread with a partner.
func (h *Handler) CreateConversation(c *gin.Context) {
	userID := c.GetString("user_id")
	var req struct {
		PartnerID string `json:"partner_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.PartnerID = strings.TrimSpace(req.PartnerID)
	if req.PartnerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "partner_id is required"})
		return
	}
	if req.PartnerID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}
	conv, created, err := h.Store.GetOrCreateConversation(userID, req.PartnerID)
	if err != nil {
		h.respondStoreError(c, err, "create conversation", "user_id", userID, "partner_id", req.PartnerID)
		return
	}
	if created && h.Hub != nil {
		h.Hub.PushListChanged(req.PartnerID)
	}
	c.JSON(http.StatusOK, conv)
}

// ListMessages serves one page of a thread.
func (h *Handler) ListMessages(c *gin.Context) {
	userID := c.GetString("user_id")
	conversationID := c.Param("id")
	page := parsePositiveInt(c.Query("page"), 1)
	size := parsePositiveInt(c.Query("page_size"), 10)
	rows, err := h.Store.Messages(conversationID, userID, page, size)
	if err != nil {
		h.respondStoreError(c, err, "list messages", "conversation_id", conversationID, "user_id", userID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

// SendMessage persists a message and pushes it to the partner's sockets.
func (h *Handler) SendMessage(c *gin.Context) {
	userID := c.GetString("user_id")
	conversationID := c.Param("id")
	var req struct {
		Text      string `json:"text"`
		ClientRef string `json:"client_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if chat.Empty(req.Text) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	msg, partnerID, err := h.Store.Append(conversationID, userID, strings.TrimSpace(req.Text), req.ClientRef)
	if err != nil {
		h.respondStoreError(c, err, "send message", "conversation_id", conversationID, "user_id", userID)
		return
	}
	if h.Hub != nil {
		h.Hub.PushMessage(partnerID, msg)
		h.Hub.PushListChanged(partnerID)
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead decays the caller's unread counter for a thread.
func (h *Handler) MarkRead(c *gin.Context) {
	userID := c.GetString("user_id")
	conversationID := c.Param("id")
	if err := h.Store.MarkRead(conversationID, userID); err != nil {
		h.respondStoreError(c, err, "mark read", "conversation_id", conversationID, "user_id", userID)
		return
	}
	c.Status(http.StatusOK)
}

// SearchPartners lists candidate chat partners for the caller.
func (h *Handler) SearchPartners(c *gin.Context) {
	userID := c.GetString("user_id")
	partners, err := h.Store.Partners(userID)
	if err != nil {
		h.respondStoreError(c, err, "search partners", "user_id", userID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": partners})
}

// ConnectHub upgrades the request to a websocket push channel.
func (h *Handler) ConnectHub(c *gin.Context) {
	userID := c.GetString("user_id")
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("hub upgrade failed", "user_id", userID, "error", err)
		}
		return
	}
	h.Hub.Attach(userID, conn)
}

func (h *Handler) respondStoreError(c *gin.Context, err error, action string, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error("store call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
	switch {
	case errors.Is(err, ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
	case errors.Is(err, ErrUnknownUser):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown user"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	// Browser websocket clients cannot set headers; allow a query fallback.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func parsePositiveInt(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

func configureGinMode(env string) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test", "testing":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
}
