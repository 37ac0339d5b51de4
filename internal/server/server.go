// Package server exposes the reconciled view over HTTP and pushes it to
// websocket consumers on every engine change.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/WylieDituri/modmail-sync/internal/dispatcher"
	"github.com/WylieDituri/modmail-sync/internal/engine"
	"github.com/WylieDituri/modmail-sync/internal/types"
)

const pingInterval = 25 * time.Second

type Server struct {
	app      *fiber.App
	engine   *engine.Engine
	registry *Registry
	listen   string
}

func New(eng *engine.Engine, listen string) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		engine:   eng,
		registry: NewRegistry(),
		listen:   listen,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api")
	api.Get("/view", s.handleView)
	api.Get("/view/sessions", s.handleViewSessions)
	api.Get("/view/grouped", s.handleViewGrouped)
	api.Get("/view/stats", s.handleViewStats)
	api.Get("/connectivity", s.handleConnectivity)
	api.Get("/ledger", s.handleLedger)

	actions := api.Group("/actions")
	actions.Post("/message", s.handleSendMessage)
	actions.Post("/pin", s.handlePin)
	actions.Post("/close", s.handleClose)
	actions.Post("/claim", s.handleClaim)
	actions.Post("/rate", s.handleRate)
	actions.Post("/refetch", s.handleRefetch)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

// Run serves until ctx is cancelled. A pump goroutine re-broadcasts the view
// to attached websocket consumers on every engine change signal.
func (s *Server) Run(ctx context.Context) error {
	if err := s.registry.Start(); err != nil {
		return err
	}

	go s.pump(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		s.registry.Stop()
	}()

	slog.Info("http surface listening", "addr", s.listen)
	if err := s.app.Listen(s.listen); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.engine.Changes():
			if s.registry.Len() == 0 {
				continue
			}
			payload, err := json.Marshal(s.engine.View())
			if err != nil {
				slog.Error("marshal view", "error", err)
				continue
			}
			s.registry.Broadcast(payload)
		}
	}
}

func (s *Server) handleView(c *fiber.Ctx) error {
	return c.JSON(s.engine.View())
}

func (s *Server) handleViewSessions(c *fiber.Ctx) error {
	return c.JSON(s.engine.View().Sessions)
}

func (s *Server) handleViewGrouped(c *fiber.Ctx) error {
	return c.JSON(s.engine.View().Grouped)
}

func (s *Server) handleViewStats(c *fiber.Ctx) error {
	return c.JSON(s.engine.View().Stats)
}

func (s *Server) handleConnectivity(c *fiber.Ctx) error {
	v := s.engine.View()
	return c.JSON(fiber.Map{
		"connectivity": v.Connectivity,
		"error":        v.ConnectivityErr,
		"lastUpdated":  v.LastUpdated,
	})
}

func (s *Server) handleLedger(c *fiber.Ctx) error {
	entries := s.engine.LedgerEntries()
	out := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		out = append(out, fiber.Map{
			"id":        e.ID,
			"kind":      e.Kind,
			"sessionId": e.SessionID,
			"createdAt": e.CreatedAt,
		})
	}
	return c.JSON(out)
}

type messageRequest struct {
	SessionID types.SessionID `json:"sessionId"`
	Content   string          `json:"content"`
	Anonymous bool            `json:"anonymous"`
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return actionResult(c, s.engine.SendMessage(c.Context(), req.SessionID, req.Content, req.Anonymous))
}

type pinRequest struct {
	SessionID types.SessionID `json:"sessionId"`
	Pin       bool            `json:"pin"`
}

func (s *Server) handlePin(c *fiber.Ctx) error {
	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return actionResult(c, s.engine.TogglePin(c.Context(), req.SessionID, req.Pin))
}

type sessionRequest struct {
	SessionID types.SessionID `json:"sessionId"`
}

func (s *Server) handleClose(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return actionResult(c, s.engine.CloseSession(c.Context(), req.SessionID))
}

func (s *Server) handleClaim(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return actionResult(c, s.engine.ClaimSession(c.Context(), req.SessionID))
}

type rateRequest struct {
	SessionID types.SessionID `json:"sessionId"`
	Rating    string          `json:"rating"`
}

func (s *Server) handleRate(c *fiber.Ctx) error {
	var req rateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return actionResult(c, s.engine.RateSatisfaction(c.Context(), req.SessionID, req.Rating))
}

func (s *Server) handleRefetch(c *fiber.Ctx) error {
	s.engine.RefetchNow()
	return c.JSON(fiber.Map{"status": "ok"})
}

// actionResult maps a dispatcher outcome to a response: guard failures and
// backend rejections both come back as ActionError with the entry already
// reversed, so the client only needs the message for its notice.
func actionResult(c *fiber.Ctx, err error) error {
	if err == nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}
	var actionErr *dispatcher.ActionError
	if errors.As(err, &actionErr) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": actionErr.Error()})
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

// handleWebSocket attaches a push consumer. The current view is sent
// immediately, then every engine change re-broadcasts through the registry.
// Pongs refresh the consumer's liveness; the registry sweeps the silent.
func (s *Server) handleWebSocket(c *websocket.Conn) {
	id := uuid.NewString()
	send := s.registry.Add(id)
	defer s.registry.Remove(id)

	c.SetPongHandler(func(string) error {
		s.registry.Touch(id)
		return nil
	})

	if payload, err := json.Marshal(s.engine.View()); err == nil {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}

	// Reader goroutine: consume control frames, detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
			s.registry.Touch(id)
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case payload, ok := <-send:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
