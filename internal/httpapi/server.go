// Package httpapi is the thin REST/websocket adapter described in
// spec.md §6. It contains no similarity or clustering logic of its own;
// every handler is a shape-and-delegate wrapper around the ingestion
// pipeline, the Index Gateway, and the Recheck Controller.
package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/newsclust/newsclust/internal/cluster"
	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/internal/queue"
	"github.com/newsclust/newsclust/internal/recheck"
)

// Server is the HTTP/websocket surface of the clustering service.
type Server struct {
	app *fiber.App
	gw  gateway.Gateway
	q   queue.Queue
	rc  *recheck.Controller
	log zerolog.Logger

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
}

// Config configures the HTTP surface.
type Config struct {
	CORSOrigins string
	EnableLive  bool
}

// NewServer wires a Server over the given collaborators. gw and q are
// the Index Gateway and ingestion queue; rc is the Recheck Controller.
func NewServer(gw gateway.Gateway, q queue.Queue, rc *recheck.Controller, cfg Config, log zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true, ErrorHandler: errorHandler})

	s := &Server{
		app:       app,
		gw:        gw,
		q:         q,
		rc:        rc,
		log:       log,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
	}

	corsConfig := cors.Config{AllowOrigins: "*"}
	if cfg.CORSOrigins != "" {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	app.Use(cors.New(corsConfig))

	s.setupRoutes(cfg.EnableLive)
	if cfg.EnableLive {
		go s.pumpBroadcast()
	}

	return s
}

func (s *Server) setupRoutes(enableLive bool) {
	v1 := s.app.Group("/api/v1")

	v1.Post("/articles", s.handleSubmitArticle)
	v1.Get("/articles/:id", s.handleGetArticle)
	v1.Get("/articles/:id/similar", s.handleGetSimilar)
	v1.Get("/clusters/:id", s.handleGetCluster)
	v1.Get("/clusters", s.handleSearchClusters)
	v1.Post("/articles/recheck", s.handleRecheck)
	v1.Get("/system/health", s.handleHealth)

	if enableLive {
		s.app.Use("/ws/events", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		s.app.Get("/ws/events", websocket.New(s.handleWebSocket))
	}
}

// Publish implements cluster.EventSink, forwarding cluster-assignment
// transitions to every connected websocket client — the same
// broadcast-to-clients loop the teacher's dashboard server uses for
// fuzzing stats.
func (s *Server) Publish(ev cluster.Event) {
	data, err := eventJSON(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal live event")
		return
	}
	select {
	case s.broadcast <- data:
	default:
		// Channel full: drop rather than block the Cluster Manager.
	}
}

func (s *Server) pumpBroadcast() {
	for msg := range s.broadcast {
		s.clientsMu.Lock()
		for c := range s.clients {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				delete(s.clients, c)
			}
		}
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.Close()
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

// Listen starts the server.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	close(s.broadcast)
	return s.app.Shutdown()
}

func newTraceID() string {
	return uuid.NewString()
}

func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 5*time.Second)
}
