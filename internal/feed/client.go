// Package feed connects to the normalized esports event stream and
// publishes decoded match events onto the bus. The wire format is the
// internal normalized frame, not an exchange protocol.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// frame is one normalized match event on the wire.
type frame struct {
	MatchID       string  `json:"match_id"`
	EventType     string  `json:"event_type"`
	Source        string  `json:"source"`
	TimestampMS   int64   `json:"timestamp_ms"`
	SourceEventID string  `json:"source_event_id,omitempty"`
	Seq           *int64  `json:"seq,omitempty"`
	WinnerTeamID  string  `json:"winner_team_id,omitempty"`
	TeamAScore    *int    `json:"team_a_score,omitempty"`
	TeamBScore    *int    `json:"team_b_score,omitempty"`
	MapIndex      *int    `json:"map_index,omitempty"`
	RoundIndex    *int    `json:"round_index,omitempty"`
}

// Config holds feed client dependencies.
type Config struct {
	Feed   config.FeedConfig
	Truth  config.TruthConfig // source tier classification
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Client reads match-event frames over a websocket and publishes them.
type Client struct {
	cfg    config.FeedConfig
	truth  config.TruthConfig
	bus    *bus.Bus
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New creates a feed client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Feed.URL == "" {
		return nil, fmt.Errorf("feed url cannot be empty")
	}

	return &Client{
		cfg:    cfg.Feed,
		truth:  cfg.Truth,
		bus:    cfg.Bus,
		logger: cfg.Logger,
	}, nil
}

// Start runs the read loop with reconnect until ctx ends.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Wait blocks until the read loop has exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := c.cfg.ReconnectInitialDelay
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		c.logger.Warn("feed-disconnected",
			zap.Error(err),
			zap.Duration("reconnect_in", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * c.cfg.ReconnectBackoffMult)
		if backoff > c.cfg.ReconnectMaxDelay {
			backoff = c.cfg.ReconnectMaxDelay
		}
	}
}

// connectAndRead dials the feed and pumps frames until the connection or
// context ends. A successful read resets the reconnect backoff upstream.
func (c *Client) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	c.logger.Info("feed-connected", zap.String("url", c.cfg.URL))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		ev, err := decodeFrame(data, c.truth)
		if err != nil {
			c.logger.Warn("feed-frame-invalid", zap.Error(err))
			continue
		}

		accepted, err := c.bus.Publish(ctx, ev)
		if err != nil {
			return fmt.Errorf("publish match event: %w", err)
		}
		if !accepted {
			c.logger.Warn("match-event-dropped",
				zap.String("match_id", ev.MatchID),
				zap.String("event_type", string(ev.Type)))
		}
	}
}

// decodeFrame converts a wire frame into a MatchEvent, classifying the
// source into its configured tier.
func decodeFrame(data []byte, truthCfg config.TruthConfig) (*types.MatchEvent, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.MatchID == "" {
		return nil, fmt.Errorf("frame missing match_id")
	}
	if f.EventType == "" {
		return nil, fmt.Errorf("frame missing event_type")
	}

	ev := types.NewMatchEvent(f.MatchID, types.MatchEventType(f.EventType), f.Source, truthCfg.TierFor(f.Source), f.TimestampMS)
	ev.SourceEventID = f.SourceEventID
	ev.Seq = f.Seq
	ev.Payload = types.MatchPayload{
		WinnerTeamID: f.WinnerTeamID,
		TeamAScore:   f.TeamAScore,
		TeamBScore:   f.TeamBScore,
		MapIndex:     f.MapIndex,
		RoundIndex:   f.RoundIndex,
	}
	return ev, nil
}
