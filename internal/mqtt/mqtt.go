// Package mqtt publishes confirmed accident events to an MQTT broker so
// downstream consumers (dashboards, recorders, automations) can react
// without polling the notification channels.
package mqtt

import (
	"context"
	"time"
)

const (
	// DefaultQoS is the quality of service level used for event publishes.
	DefaultQoS = 0

	connectTimeout    = 30 * time.Second
	publishTimeout    = 10 * time.Second
	reconnectCooldown = 5 * time.Second
	reconnectDelay    = 1 * time.Second
	disconnectQuiesce = 250 // milliseconds handed to paho on disconnect
)

// Client is the broker-facing surface the pipeline uses.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic, payload string) error
	IsConnected() bool
	Disconnect()
}

// Config holds the client configuration.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string
	Retain            bool
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
}
