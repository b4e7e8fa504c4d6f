// Package bus mirrors game events onto Redis for operational consumers
// (dashboards, recorders) and provides the shared Redis client used by
// the rate limiter. The mirror is fire-and-forget: Redis being down never
// blocks or fails a game operation.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/metrics"
)

// mirrorFrame is the wire shape published to the session channel. It
// carries the visibility metadata the client stream strips, so treat the
// channel as trusted operator infrastructure, never a client surface.
type mirrorFrame struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"sessionId"`
	Timestamp  time.Time      `json:"timestamp"`
	Visibility string         `json:"visibility"`
	Recipients []string       `json:"recipients,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// Service owns the Redis connection. A nil *Service is valid and means
// single-instance mode with no Redis; every method degrades to a no-op.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, nil in single-instance mode.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService connects to Redis and verifies the connection with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to Redis", zap.String("addr", addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// channelFor is the per-session mirror channel.
func channelFor(sessionID string) string {
	return "gm:session:" + sessionID
}

// MirrorEvent publishes one game event to the session's channel. Errors
// are logged and swallowed; an open breaker drops silently.
func (s *Service) MirrorEvent(ctx context.Context, e game.Event) {
	if s == nil || s.client == nil {
		return
	}

	_, err := s.cb.Execute(func() (any, error) {
		data, err := json.Marshal(mirrorFrame{
			Type:       string(e.Type),
			SessionID:  e.SessionID,
			Timestamp:  e.Timestamp,
			Visibility: string(e.Visibility),
			Recipients: e.Recipients,
			Payload:    e.Payload,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal mirror frame: %w", err)
		}
		return nil, s.client.Publish(ctx, channelFor(e.SessionID), data).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return
		}
		logging.Warn(ctx, "event mirror publish failed",
			zap.String("sessionId", e.SessionID),
			zap.String("type", string(e.Type)),
			zap.Error(err))
	}
}

// Subscribe listens for mirrored frames of one session until ctx ends.
// handler runs on the subscription goroutine for every valid frame.
func (s *Service) Subscribe(ctx context.Context, sessionID string, handler func(game.Event)) {
	if s == nil || s.client == nil {
		return
	}

	channel := channelFor(sessionID)
	pubsub := s.client.Subscribe(ctx, channel)

	go func() {
		defer func() { _ = pubsub.Close() }()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "mirror subscription channel closed", zap.String("channel", channel))
					return
				}
				var frame mirrorFrame
				if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
					logging.Error(ctx, "failed to unmarshal mirror frame", zap.Error(err))
					continue
				}
				handler(game.Event{
					Type:       game.EventType(frame.Type),
					SessionID:  frame.SessionID,
					Timestamp:  frame.Timestamp,
					Visibility: game.Visibility(frame.Visibility),
					Recipients: frame.Recipients,
					Payload:    frame.Payload,
				})
			}
		}
	}()
}

// Ping checks Redis connectivity. Used by readiness.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
