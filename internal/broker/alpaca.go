package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quantbot/types"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultAlpacaBaseURL = "https://paper-api.alpaca.markets"

type AlpacaConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// latestPricer reports the last traded price when no reference price is
// supplied with a market order.
type latestPricer interface {
	Latest(ctx context.Context, symbol string) (types.Tick, error)
}

type AlpacaBroker struct {
	cfg    AlpacaConfig
	http   *http.Client
	prices latestPricer
	ledger *Ledger
	logger *zap.Logger
}

func NewAlpacaBroker(cfg AlpacaConfig, prices latestPricer, client *http.Client, logger *zap.Logger) (*AlpacaBroker, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAlpacaBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlpacaBroker{
		cfg:    cfg,
		http:   client,
		prices: prices,
		ledger: NewLedger(),
		logger: logger,
	}, nil
}

type alpacaOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type alpacaOrderResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Submit places the order with the venue and books a fill at the reference
// price, or at the latest trade when none is given. Commission is zero.
func (b *AlpacaBroker) Submit(ctx context.Context, order types.Order, ref decimal.NullDecimal) (types.Fill, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "broker.alpaca.submit")
	defer span.Finish()
	span.SetTag("symbol", order.Symbol)
	span.SetTag("side", string(order.Side))

	if order.Quantity <= 0 {
		return types.Fill{}, ErrInvalidQuantity
	}

	venueID, err := b.placeOrder(ctx, order)
	if err != nil {
		span.SetTag("error", true)
		return types.Fill{}, err
	}

	px := ref
	if order.LimitPrice.Valid && !px.Valid {
		px = order.LimitPrice
	}
	if !px.Valid {
		if b.prices == nil {
			return types.Fill{}, ErrMissingReferencePrice
		}
		tick, err := b.prices.Latest(ctx, order.Symbol)
		if err != nil {
			return types.Fill{}, errors.Wrap(err, "alpaca latest trade")
		}
		px = decimal.NewNullDecimal(tick.Price)
	}

	fill := types.NewFill(order, px.Decimal, decimal.Zero, order.CreatedAt)
	b.ledger.Apply(fill)
	b.logger.Info("alpaca order accepted",
		zap.String("id", order.ID),
		zap.String("venue_id", venueID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Int64("qty", order.Quantity),
		zap.String("price", px.Decimal.String()),
	)
	return fill, nil
}

func (b *AlpacaBroker) Position(symbol string) types.Position {
	return b.ledger.Position(symbol)
}

func (b *AlpacaBroker) Fills() []types.Fill {
	return b.ledger.Fills()
}

func (b *AlpacaBroker) placeOrder(ctx context.Context, order types.Order) (string, error) {
	body := alpacaOrderRequest{
		Symbol:        order.Symbol,
		Qty:           fmt.Sprintf("%d", order.Quantity),
		Side:          strings.ToLower(string(order.Side)),
		Type:          strings.ToLower(string(order.Type())),
		TimeInForce:   "day",
		ClientOrderID: order.ID,
	}
	if order.LimitPrice.Valid {
		body.LimitPrice = order.LimitPrice.Decimal.String()
	}

	payload, err := sonic.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "marshal order")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/v2/orders", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("APCA-API-KEY-ID", b.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", b.cfg.APISecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "post order")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read order response")
	}

	var r alpacaOrderResponse
	_ = sonic.Unmarshal(data, &r)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("alpaca order rejected: status=%d msg=%s", resp.StatusCode, r.Message)
	}
	return r.ID, nil
}
