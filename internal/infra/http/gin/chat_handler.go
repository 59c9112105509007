package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"marketchat/internal/app/commands"
	"marketchat/internal/app/dto"
	chathandlers "marketchat/internal/app/handlers/chat"
	"marketchat/internal/app/policies"
	"marketchat/internal/app/queries"
	domainchat "marketchat/internal/domain/chat"
)

// ChatHTTP exposes chat endpoints.
type ChatHTTP interface {
	Inbox(c *gin.Context)
	OpenConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	SetBlocked(c *gin.Context)
	Unread(c *gin.Context)
	ReconcileUnread(c *gin.Context)
}

// ChatHandler bridges HTTP with the command and query buses.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

// Inbox returns the caller's conversation list, most recent activity
// first.
func (h ChatHandler) Inbox(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	q := chathandlers.InboxQuery{
		UserID: p.ID,
		Limit:  parsePositiveIntStrict(c.Query("limit"), 0),
		Cursor: c.Query("cursor"),
	}
	list, err := queries.Ask[chathandlers.InboxQuery, *dto.ConversationList](c.Request.Context(), h.Queries, q)
	if err != nil {
		h.respondChatError(c, err, "inbox", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, list)
}

// OpenConversation gets or creates the caller's thread with a listing's
// owner.
func (h ChatHandler) OpenConversation(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	listingID := strings.TrimSpace(c.Param("id"))
	if listingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing id is required"})
		return
	}
	cmd := chathandlers.OpenConversationCommand{ListingID: listingID, CallerID: p.ID}
	result, err := commands.Dispatch[chathandlers.OpenConversationCommand, *chathandlers.OpenConversationResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondChatError(c, err, "open conversation", "listing_id", listingID, "user_id", p.ID)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// ListMessages pages through a conversation's history, oldest first.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	q := chathandlers.ListMessagesQuery{
		ConversationID: conversationID,
		RequesterID:    p.ID,
		Cursor:         c.Query("cursor"),
		Limit:          parsePositiveIntStrict(c.Query("limit"), 0),
	}
	page, err := queries.Ask[chathandlers.ListMessagesQuery, *dto.ChatMessageList](c.Request.Context(), h.Queries, q)
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, page)
}

// SendMessage appends a message. Clients retrying a timed-out send repeat
// the Idempotency-Key header so the append happens once.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	cmd := chathandlers.SendMessageCommand{
		ConversationID:  conversationID,
		SenderID:        p.ID,
		Body:            req.Body,
		IdempotencyKeyV: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	}
	result, err := commands.Dispatch[chathandlers.SendMessageCommand, *chathandlers.SendMessageResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondChatError(c, err, "send message", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, result.Message)
}

// MarkRead flips everything addressed to the caller in the conversation.
func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	cmd := chathandlers.MarkReadCommand{ConversationID: conversationID, ReaderID: p.ID}
	result, err := commands.Dispatch[chathandlers.MarkReadCommand, *dto.MarkReadResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondChatError(c, err, "mark read", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SetBlocked raises or clears the caller's block flag on a thread.
func (h ChatHandler) SetBlocked(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req struct {
		Blocked bool `json:"blocked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	cmd := chathandlers.SetBlockedCommand{
		ConversationID: conversationID,
		ByParticipant:  p.ID,
		Blocked:        req.Blocked,
	}
	result, err := commands.Dispatch[chathandlers.SetBlockedCommand, *chathandlers.SetBlockedResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondChatError(c, err, "set blocked", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Unread returns the caller's badge total with its per-conversation
// breakdown.
func (h ChatHandler) Unread(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	summary, err := queries.Ask[chathandlers.UnreadQuery, *dto.UnreadSummary](c.Request.Context(), h.Queries, chathandlers.UnreadQuery{UserID: p.ID})
	if err != nil {
		h.respondChatError(c, err, "unread", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ReconcileUnread recomputes the caller's counters from stored messages.
func (h ChatHandler) ReconcileUnread(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	cmd := chathandlers.ReconcileUnreadCommand{UserID: p.ID}
	summary, err := commands.Dispatch[chathandlers.ReconcileUnreadCommand, *dto.UnreadSummary](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondChatError(c, err, "reconcile unread", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	status, message := chatErrorStatus(err)
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("chat call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
	c.JSON(status, gin.H{"error": message})
}

func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domainchat.ErrConversationNotFound),
		errors.Is(err, domainchat.ErrMessageNotFound),
		errors.Is(err, policies.ErrListingNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domainchat.ErrNotParticipant):
		return http.StatusForbidden, "not a chat participant"
	case errors.Is(err, domainchat.ErrBlocked):
		return http.StatusForbidden, "conversation is blocked"
	case errors.Is(err, domainchat.ErrSelfConversation),
		errors.Is(err, domainchat.ErrListingRequired),
		errors.Is(err, domainchat.ErrParticipantsRequired),
		errors.Is(err, domainchat.ErrEmptyBody),
		errors.Is(err, domainchat.ErrBodyTooLong),
		errors.Is(err, domainchat.ErrInvalidCursor):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

var _ ChatHTTP = ChatHandler{}
