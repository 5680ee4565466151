package avs

import (
	"context"
	"net/http"
	"time"
)

// Config collects everything needed to build a Client. Boundary is the
// multipart boundary this client uses on every outbound request (spec
// §4.1); HTTPClient, if nil, defaults to http.DefaultClient for token
// refreshes only (the AVS connection itself always uses HTTP/2).
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Boundary     string

	Player Player
	Mic    WakeMicrophone
	Logger Logger

	HTTPClient *http.Client
}

// Client wires together every protocol component: the connection, token
// manager, alert scheduler, event builder, dispatcher, downchannel, and
// keepalive pinger. Grounded on original_source/alexa_device.py's
// AlexaDevice, which plays the same coordinating role.
type Client struct {
	conn        *Connection
	events      *EventBuilder
	alerts      *AlertScheduler
	dispatcher  *Dispatcher
	downchannel *Downchannel
	keepalive   *Keepalive
	dialog      *Dialog
	logger      Logger
}

// NewClient builds a Client without opening any connection yet. now is
// the time used to seed the connection's message/dialog id epoch.
func NewClient(cfg Config, now time.Time) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = NoOpLogger{}
	}

	tokens := NewTokenManager(cfg.ClientID, cfg.ClientSecret, cfg.RefreshToken, cfg.HTTPClient)
	conn := NewConnection(tokens, cfg.Boundary, now)

	var toneFunc ToneFunc
	if cfg.Player != nil {
		toneFunc = cfg.Player.PlayTone
	}
	alerts := NewAlertScheduler(nil, toneFunc)

	ctxProvider := NewStaticContext(alerts)
	events := NewEventBuilder(conn, ctxProvider)

	dispatcher := NewDispatcher(events, alerts, cfg.Player, cfg.Mic, logger)
	alerts.emit = dispatcher.AlertEvent

	c := &Client{
		conn:       conn,
		events:     events,
		alerts:     alerts,
		dispatcher: dispatcher,
		logger:     logger,
	}
	c.downchannel = NewDownchannel(conn, c.handleDirectiveMessage, logger)
	c.keepalive = NewKeepalive(conn, c.handleKeepaliveFailure, logger)
	if cfg.Mic != nil {
		c.dialog = NewDialog(cfg.Mic, events, dispatcher, logger)
	}
	return c
}

// Start performs the initial handshake (spec §4.11: send an empty
// System.SynchronizeState and require a 204 before accepting anything
// else), then opens the downchannel and starts the keepalive pinger.
func (c *Client) Start(ctx context.Context) error {
	if err := c.synchronizeState(ctx); err != nil {
		return err
	}
	if err := c.downchannel.Start(ctx); err != nil {
		return err
	}
	c.keepalive.Start(ctx)
	return nil
}

func (c *Client) synchronizeState(ctx context.Context) error {
	resp, err := c.events.Send(ctx, NamespaceSystem, NameSynchronizeState, struct{}{}, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return &ProtocolError{Reason: "bootstrap SynchronizeState did not return 204: " + resp.Status}
	}
	return nil
}

// Reconnect tears down the downchannel and keepalive, then re-runs the
// bootstrap handshake and restarts both, per spec §4.5's reconnect
// behavior on keepalive failure.
func (c *Client) Reconnect(ctx context.Context) error {
	c.downchannel.Stop()
	c.keepalive.Stop()
	return c.Start(ctx)
}

// RunDialog blocks running the wake-word driven dialog loop until ctx is
// canceled. It is a no-op if no microphone was configured.
func (c *Client) RunDialog(ctx context.Context) error {
	if c.dialog == nil {
		return nil
	}
	return c.dialog.Run(ctx)
}

// Close tears down every running component.
func (c *Client) Close() {
	c.downchannel.Stop()
	c.keepalive.Stop()
	c.conn.Close()
}

func (c *Client) handleDirectiveMessage(msg Message) {
	if err := c.dispatcher.Handle(context.Background(), msg); err != nil {
		c.logger.Warn("directive dispatch failed", "error", err)
	}
}

func (c *Client) handleKeepaliveFailure(err error) {
	c.logger.Warn("keepalive failed, reconnecting", "error", err)
	go func() {
		if err := c.Reconnect(context.Background()); err != nil {
			c.logger.Error("reconnect failed", "error", err)
		}
	}()
}
