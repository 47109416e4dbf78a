package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/domain"
)

const roomSubjectPrefix = "collab.room."

// relayEnvelope wraps a room event with its origin instance so subscribers
// can discard their own publishes.
type relayEnvelope struct {
	Origin string             `json:"origin"`
	RoomID string             `json:"room_id"`
	Event  domain.BaseMessage `json:"event"`
}

// RelayAdapter fans room broadcasts out to sibling service instances over
// core NATS. Room events are ephemeral, so plain publish/subscribe is enough;
// a subscriber that was down simply misses events, the same as a client
// that reconnects.
type RelayAdapter struct {
	nc         *nats.Conn
	logger     domain.Logger
	instanceID string
	sub        *nats.Subscription
}

// NewRelayAdapter connects to the NATS server named in the configuration.
func NewRelayAdapter(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*RelayAdapter, func(), error) {
	appFullCfg := cfgProvider.Get()
	natsCfg := appFullCfg.NATS
	appName := appFullCfg.App.ServiceName
	instanceID := appFullCfg.App.InstanceID

	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", natsCfg.URL)

	nc, err := nats.Connect(natsCfg.URL,
		nats.Name(fmt.Sprintf("%s-relay-%s", appName, instanceID)),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			appLogger.Error(ctx, "NATS error", "subscription", subject, "error", err.Error())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			appLogger.Warn(ctx, "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", natsCfg.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}

	appLogger.Info(ctx, "Successfully connected to NATS server", "url", nc.ConnectedUrl())

	adapter := &RelayAdapter{nc: nc, logger: appLogger, instanceID: instanceID}
	cleanup := func() {
		appLogger.Info(context.Background(), "Closing NATS relay connection...")
		_ = adapter.Close()
	}
	return adapter, cleanup, nil
}

// Publish forwards one room event to sibling instances.
func (a *RelayAdapter) Publish(ctx context.Context, roomID string, event domain.BaseMessage) error {
	data, err := json.Marshal(relayEnvelope{Origin: a.instanceID, RoomID: roomID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	return a.nc.Publish(roomSubjectPrefix+roomID, data)
}

// Subscribe delivers room events published by other instances to handler.
// Events originating from this instance are discarded.
func (a *RelayAdapter) Subscribe(ctx context.Context, handler func(roomID string, event domain.BaseMessage)) error {
	sub, err := a.nc.Subscribe(roomSubjectPrefix+">", func(msg *nats.Msg) {
		var env relayEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			a.logger.Warn(context.Background(), "Discarding malformed relay message", "subject", msg.Subject, "error", err.Error())
			return
		}
		if env.Origin == a.instanceID {
			return
		}
		handler(env.RoomID, env.Event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to room relay subjects: %w", err)
	}
	a.sub = sub
	a.logger.Info(ctx, "Subscribed to room event relay", "subject", roomSubjectPrefix+">")
	return nil
}

// Healthy reports whether the underlying connection is currently up. Used by
// the readiness probe.
func (a *RelayAdapter) Healthy() bool {
	return a.nc != nil && a.nc.IsConnected()
}

// Close drains the subscription and connection.
func (a *RelayAdapter) Close() error {
	if a.nc != nil && !a.nc.IsClosed() {
		if err := a.nc.Drain(); err != nil {
			a.logger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
			return err
		}
	}
	return nil
}
