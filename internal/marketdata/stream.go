package marketdata

import (
	"context"
	"math"
	"time"

	"quantbot/types"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultStreamURL = "wss://stream.data.alpaca.markets/v2/sip"
	readTimeout      = 30 * time.Second
	pingInterval     = 15 * time.Second
	maxBackoff       = 30 * time.Second
	authTimeout      = 10 * time.Second
)

var ErrStreamAuth = errors.New("alpaca stream rejected credentials")

// AlpacaStream subscribes to trade events over the Alpaca market data
// websocket and reconnects with backoff when the connection drops.
type AlpacaStream struct {
	cfg    AlpacaConfig
	dialer websocket.Dialer
	logger *zap.Logger
}

func NewAlpacaStream(cfg AlpacaConfig, logger *zap.Logger) (*AlpacaStream, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = defaultStreamURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlpacaStream{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

type streamMessage struct {
	Type   string  `json:"T"`
	Symbol string  `json:"S"`
	Price  float64 `json:"p"`
	Time   string  `json:"t"`
	Msg    string  `json:"msg"`
	Code   int     `json:"code"`
}

// Stream connects, authenticates and subscribes before returning, so a
// caller can fall back to polling when the feed is unavailable or the
// credentials are rejected. The channel is closed when
// ctx is done.
func (s *AlpacaStream) Stream(ctx context.Context, symbols []string) (<-chan types.Tick, error) {
	conn, err := s.connect(ctx, symbols)
	if err != nil {
		return nil, err
	}

	out := make(chan types.Tick, 64)
	go func() {
		defer close(out)
		backoff := time.Second
		for {
			err := s.consume(ctx, conn, out)
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("alpaca stream disconnected, retrying", zap.Error(err), zap.Duration("backoff", backoff))

			for {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
				conn, err = s.connect(ctx, symbols)
				if err == nil {
					backoff = time.Second
					break
				}
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("alpaca stream reconnect failed", zap.Error(err))
			}
		}
	}()
	return out, nil
}

func (s *AlpacaStream) connect(ctx context.Context, symbols []string) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.StreamURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial alpaca stream")
	}

	auth := map[string]any{"action": "auth", "key": s.cfg.APIKey, "secret": s.cfg.APISecret}
	if err := writeControl(conn, auth); err != nil {
		conn.Close()
		return nil, err
	}
	if err := awaitAuth(conn); err != nil {
		conn.Close()
		return nil, err
	}
	sub := map[string]any{"action": "subscribe", "trades": symbols}
	if err := writeControl(conn, sub); err != nil {
		conn.Close()
		return nil, err
	}
	s.logger.Info("connected market data stream", zap.Strings("symbols", symbols))
	return conn, nil
}

func writeControl(conn *websocket.Conn, msg map[string]any) error {
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal control message")
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "send control message")
	}
	return nil
}

// awaitAuth reads control frames until the server accepts or rejects the
// credentials. The initial "connected" frame is skipped.
func awaitAuth(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read auth reply")
		}
		var events []streamMessage
		if err := sonic.Unmarshal(data, &events); err != nil {
			return errors.Wrap(err, "decode auth reply")
		}
		for _, ev := range events {
			switch {
			case ev.Type == "success" && ev.Msg == "authenticated":
				return nil
			case ev.Type == "error":
				return errors.Wrapf(ErrStreamAuth, "%d %s", ev.Code, ev.Msg)
			}
		}
	}
}

func (s *AlpacaStream) consume(ctx context.Context, conn *websocket.Conn, out chan<- types.Tick) error {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				// unblock ReadMessage
				_ = conn.SetReadDeadline(time.Now())
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		ticks, err := parseTradeMessages(message)
		if err != nil {
			s.logger.Warn("failed to decode alpaca message", zap.Error(err))
			continue
		}
		for _, tick := range ticks {
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// parseTradeMessages decodes one websocket frame, an array of events, and
// returns its trades. An error event is returned as an error.
func parseTradeMessages(data []byte) ([]types.Tick, error) {
	var events []streamMessage
	if err := sonic.Unmarshal(data, &events); err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	var ticks []types.Tick
	for _, ev := range events {
		switch ev.Type {
		case "t":
			ts, err := time.Parse(time.RFC3339Nano, ev.Time)
			if err != nil {
				return nil, errors.Wrapf(err, "trade time %q", ev.Time)
			}
			ticks = append(ticks, types.Tick{Symbol: ev.Symbol, Price: decimal.NewFromFloat(ev.Price), Time: ts.UTC()})
		case "error":
			return ticks, errors.Errorf("alpaca stream error %d: %s", ev.Code, ev.Msg)
		}
	}
	return ticks, nil
}
