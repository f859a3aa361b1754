package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/YetiSight/trackify-adventure/internal/config"
	"github.com/YetiSight/trackify-adventure/internal/device"
	"github.com/YetiSight/trackify-adventure/internal/session"
	"github.com/YetiSight/trackify-adventure/internal/stream"
	"github.com/YetiSight/trackify-adventure/internal/telemetry"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
	Device *device.Manager
	Engine *session.Engine

	sessions session.Store
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	registry := telemetry.NewRegistry()
	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
		Device: device.NewManager(registry, cfg.ThingSpeakBaseURL),
	}
	s.sessions = sessionStore(cfg, db, redisClient)
	s.Engine = session.NewEngine(s.Device.Connected, s.sessions, cfg.DefaultUserID)

	wireBroadcasts(s)
	registerRoutes(s)
	return s
}

func sessionStore(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) session.Store {
	switch {
	case cfg.SessionStore == "postgres" && db != nil:
		return session.NewPostgresStore(db)
	case redisClient != nil:
		return session.NewRedisStore(redisClient, cfg.SessionsKey)
	default:
		log.Printf("no session backend configured, history will not survive restarts")
		return session.NewMemoryStore()
	}
}

// wireBroadcasts fans every device and session event out to the websocket
// hub. Readings also feed the session engine, which ignores them while idle.
func wireBroadcasts(s *Server) {
	s.Device.OnReading(func(reading telemetry.SensorReading, at time.Time) {
		s.Engine.Ingest(reading)
		broadcastJSON(s.Stream, stream.TopicReadings, fiber.Map{
			"reading":     reading,
			"received_at": at.UnixMilli(),
		})
	})
	s.Device.OnStateChange(func(state device.State, mode device.Mode, errType device.ErrorType) {
		broadcastJSON(s.Stream, stream.TopicConnection, fiber.Map{
			"state":      state,
			"mode":       mode,
			"error_type": errType,
		})
	})
	s.Device.OnNotice(func(notice string) {
		broadcastJSON(s.Stream, stream.TopicConnection, fiber.Map{"notice": notice})
	})
	s.Engine.OnStats(func(stats session.Stats) {
		broadcastJSON(s.Stream, stream.TopicSession, fiber.Map{"stats": stats})
	})
	s.Engine.OnPersisted(func(record session.Record) {
		broadcastJSON(s.Stream, stream.TopicSession, fiber.Map{"saved": record})
	})
}

func broadcastJSON(hub *stream.Hub, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}
	hub.Broadcast(topic, data)
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	device.RegisterRoutes(s.App.Group("/device"), s.Device)
	session.RegisterRoutes(s.App.Group("/session"), s.Engine)
	session.RegisterHistoryRoutes(s.App.Group("/sessions"), s.sessions)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
