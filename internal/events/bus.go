package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"ratings-backend/internal/logger"
)

// Message is the wire form of an emitted event. Rating values never appear
// here; reveal events carry only already-public averages.
type Message struct {
	Type     string         `json:"type"`
	DoctorID *uuid.UUID     `json:"doctor_id,omitempty"`
	ActorID  *uuid.UUID     `json:"actor_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

// Bus fans events out to external consumers (indexers, UIs).
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisBus connects to redis and returns a pub/sub backed Bus.
func NewRedisBus(addr, channel string, log *logger.Logger) (Bus, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if channel == "" {
		channel = "ratings.events"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisBus{
		log:     log.With("service", "RedisEventBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) Close() error {
	return b.rdb.Close()
}

type nopBus struct{}

// NewNopBus returns a Bus that drops everything. Used when redis is not
// configured and in tests.
func NewNopBus() Bus { return nopBus{} }

func (nopBus) Publish(context.Context, Message) error { return nil }
func (nopBus) Close() error                           { return nil }
