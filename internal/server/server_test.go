package server

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/YetiSight/trackify-adventure/internal/config"
	"github.com/YetiSight/trackify-adventure/internal/session"
	"github.com/YetiSight/trackify-adventure/internal/stream"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHealthRoute(t *testing.T) {
	s := NewServer(config.Config{ServerPort: ":0"}, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestSessionStoreSelection(t *testing.T) {
	if _, ok := sessionStore(config.Config{}, nil, nil).(*session.MemoryStore); !ok {
		t.Fatalf("expected memory store without backends")
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{SessionsKey: "ski:sessions"}
	if _, ok := sessionStore(cfg, nil, client).(*session.RedisStore); !ok {
		t.Fatalf("expected redis store when a client is available")
	}

	// Postgres is requested but no pool is connected; redis wins.
	cfg.SessionStore = "postgres"
	if _, ok := sessionStore(cfg, nil, client).(*session.RedisStore); !ok {
		t.Fatalf("expected redis fallback without a pool")
	}
}

func TestDeviceAndSessionRoutesRegistered(t *testing.T) {
	s := NewServer(config.Config{}, nil, nil)

	for _, route := range []struct {
		method string
		path   string
	}{
		{"GET", "/device/status"},
		{"GET", "/session/stats"},
		{"GET", "/sessions/"},
	} {
		resp, err := s.App.Test(httptest.NewRequest(route.method, route.path, nil))
		if err != nil {
			t.Fatalf("%s %s request error: %v", route.method, route.path, err)
		}
		if resp.StatusCode != 200 {
			t.Fatalf("%s %s: expected 200, got %d", route.method, route.path, resp.StatusCode)
		}
	}
}

func TestSessionEventsReachStream(t *testing.T) {
	s := NewServer(config.Config{}, nil, nil)
	client := s.Stream.Register(stream.TopicSession)
	defer s.Stream.Unregister(client)

	s.Engine.Reset()

	select {
	case msg := <-client.Send:
		var payload struct {
			Stats *session.Stats `json:"stats"`
		}
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if payload.Stats == nil {
			t.Fatalf("expected stats payload, got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a session broadcast")
	}
}

func TestConnectionEventsReachStream(t *testing.T) {
	s := NewServer(config.Config{}, nil, nil)
	client := s.Stream.Register(stream.TopicConnection)
	defer s.Stream.Unregister(client)

	// An invalid target fails synchronously but still publishes the
	// error state transition.
	if err := s.Device.Connect("", "", "direct", "insecure"); err == nil {
		t.Fatalf("expected connect error for empty target")
	}

	select {
	case msg := <-client.Send:
		var payload struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if payload.State != "error" {
			t.Fatalf("expected error state broadcast, got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a connection broadcast")
	}
}
