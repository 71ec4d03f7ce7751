// Package server exposes the conversation manager over HTTP. It is the
// process-local stand-in for a client talking to the durable engine.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dialog-core/dcore/config"
	"github.com/ZanzyTHEbar/dialog-core/dcore/conversation"
)

// PromptSource supplies the system prompt for newly started conversations.
type PromptSource interface {
	SystemPrompt() string
}

type staticPrompt string

func (s staticPrompt) SystemPrompt() string { return string(s) }

// StaticPrompt wraps a fixed string as a PromptSource.
func StaticPrompt(s string) PromptSource { return staticPrompt(s) }

// Server is the HTTP bridge in front of a conversation manager.
type Server struct {
	manager     *conversation.Manager
	prompts     PromptSource
	pollTimeout time.Duration
	logger      zerolog.Logger

	engine *gin.Engine
	http   *http.Server
}

// New wires the bridge routes. The returned server is not yet listening.
func New(cfg *config.Config, manager *conversation.Manager, prompts PromptSource, logger zerolog.Logger) *Server {
	if !cfg.Bridge.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if prompts == nil {
		prompts = staticPrompt("")
	}

	s := &Server{
		manager:     manager,
		prompts:     prompts,
		pollTimeout: cfg.Conversation.PollTimeout,
		logger:      logger.With().Str("component", "bridge").Logger(),
	}
	if s.pollTimeout <= 0 {
		s.pollTimeout = 60 * time.Second
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/healthz", s.handleHealth)
	engine.POST("/session/start", s.handleStart)
	engine.POST("/session/send", s.handleSend)
	engine.GET("/session/:id/items", s.handleItems)
	engine.GET("/session/:id/state", s.handleState)
	engine.POST("/reply", s.handleReplyHook)

	s.engine = engine
	s.http = &http.Server{
		Addr:         cfg.Bridge.ListenAddr,
		Handler:      engine,
		ReadTimeout:  cfg.Bridge.ReadTimeout,
		WriteTimeout: cfg.Bridge.WriteTimeout,
	}
	return s
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("bridge listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type startRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Message        string `json:"message"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	conv, err := s.manager.Start(c.Request.Context(), conversation.StartOptions{
		ConversationID: req.ConversationID,
		SystemPrompt:   s.prompts.SystemPrompt(),
		InitialMessage: req.Message,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conv.ID(),
		"handle":          conv.Handle(),
		"status":          conv.Status(),
	})
}

type sendRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Message        string `json:"message" binding:"required"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id and message are required"})
		return
	}

	conv, err := s.manager.Get(req.ConversationID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	since := conv.LastSeq()
	turnID, err := conv.Submit(c.Request.Context(), req.Message)
	if err != nil {
		s.renderError(c, err)
		return
	}

	reply, err := conv.WaitForReply(c.Request.Context(), since, s.pollTimeout)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if reply == nil {
		// The turn is accepted and will complete; the caller polls items.
		c.JSON(http.StatusAccepted, gin.H{"turn_id": turnID})
		return
	}

	c.JSON(http.StatusOK, gin.H{"turn_id": turnID, "reply": reply})
}

func (s *Server) handleItems(c *gin.Context) {
	conv, err := s.manager.Get(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": conv.Items()})
}

func (s *Server) handleState(c *gin.Context) {
	conv, err := s.manager.Get(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	snap := conv.Snapshot()
	resp := gin.H{
		"conversation_id":  conv.ID(),
		"status":           conv.Status(),
		"epoch":            conv.Epoch(),
		"items":            snap.Items,
		"next_turn_number": snap.NextTurnNumber,
		"total_user_turns": snap.TotalUserTurns,
		"last_sequence":    snap.LastSeq,
	}
	if err := conv.Err(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

type replyHook struct {
	ConversationID string `json:"conversation_id"`
	TurnID         string `json:"turn_id"`
	Response       string `json:"response"`
}

// handleReplyHook receives reply notifications pushed by external workers.
// The controller already commits replies itself; the hook just records the
// delivery.
func (s *Server) handleReplyHook(c *gin.Context) {
	var hook replyHook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reply payload"})
		return
	}
	s.logger.Info().
		Str("conversation_id", hook.ConversationID).
		Str("turn_id", hook.TurnID).
		Int("response_chars", len(hook.Response)).
		Msg("reply notification received")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyConversationID),
		errors.Is(err, conversation.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, conversation.ErrConversationFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}
