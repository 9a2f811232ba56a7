package oracle

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

const (
	// reconnectBase is the initial reconnect delay; it doubles per attempt
	// up to reconnectMax.
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second

	readDeadline = 90 * time.Second
)

// subscribeMsg is the stream subscription request.
type subscribeMsg struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// streamUpdate is one incoming price update.
type streamUpdate struct {
	Type      string `json:"type"`
	PriceFeed struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int    `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"price_feed"`
}

// runStream keeps one streaming connection alive until ctx is cancelled,
// reconnecting with exponential backoff.
func (s *Service) runStream(ctx context.Context) {
	defer close(s.done)

	delay := reconnectBase
	for {
		if err := s.streamOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("price stream disconnected",
				slog.String("error", err.Error()),
				slog.Duration("reconnect_in", delay),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

// streamOnce dials the stream, subscribes to all registered feeds, and
// consumes updates until the connection drops or ctx is cancelled.
func (s *Service) streamOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.StreamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ids := s.feedIDs()
	if len(ids) > 0 {
		if err := conn.WriteJSON(subscribeMsg{Type: "subscribe", IDs: ids}); err != nil {
			return err
		}
	}
	s.logger.Info("price stream connected", slog.Int("feeds", len(ids)))

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleUpdate(ctx, data)
	}
}

// handleUpdate parses one stream message and stores the quote.
func (s *Service) handleUpdate(ctx context.Context, data []byte) {
	var upd streamUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		s.logger.Debug("unparseable stream message", slog.String("error", err.Error()))
		return
	}
	if upd.Type != "price_update" {
		return
	}

	symbol, ok := s.symbolForFeed(upd.PriceFeed.ID)
	if !ok {
		return
	}

	q := domain.PriceQuote{
		Price:      scaledFloat(upd.PriceFeed.Price.Price, upd.PriceFeed.Price.Expo),
		Confidence: scaledFloat(upd.PriceFeed.Price.Conf, upd.PriceFeed.Price.Expo),
		Timestamp:  time.Unix(upd.PriceFeed.Price.PublishTime, 0),
	}
	if !s.acceptable(q) {
		return
	}
	s.store(ctx, symbol, q)
}
