package marketdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quantbot/types"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const defaultDataURL = "https://data.alpaca.markets"

type AlpacaConfig struct {
	DataURL   string
	StreamURL string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

func (c AlpacaConfig) validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// AlpacaClient polls the latest trade for a symbol.
type AlpacaClient struct {
	cfg  AlpacaConfig
	http *http.Client
}

func NewAlpacaClient(cfg AlpacaConfig, client *http.Client) (*AlpacaClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.DataURL == "" {
		cfg.DataURL = defaultDataURL
	}
	cfg.DataURL = strings.TrimRight(cfg.DataURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &AlpacaClient{cfg: cfg, http: client}, nil
}

type latestTradeResponse struct {
	Symbol string         `json:"symbol"`
	Trade  map[string]any `json:"trade"`
}

func (c *AlpacaClient) Latest(ctx context.Context, symbol string) (types.Tick, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", c.cfg.DataURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.Tick{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return types.Tick{}, errors.Wrap(err, "get latest trade")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Tick{}, errors.Wrap(err, "read latest trade")
	}
	if resp.StatusCode != http.StatusOK {
		return types.Tick{}, errors.Errorf("latest trade %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var r latestTradeResponse
	if err := sonic.Unmarshal(data, &r); err != nil {
		return types.Tick{}, errors.Wrap(err, "decode latest trade")
	}
	return tradeToTick(symbol, r.Trade)
}

// tradeToTick accepts both the compact ("p", "t") and long ("price",
// "timestamp") field names.
func tradeToTick(symbol string, trade map[string]any) (types.Tick, error) {
	var px decimal.Decimal
	found := false
	for _, k := range []string{"p", "price"} {
		if v, ok := trade[k]; ok {
			f, ok := v.(float64)
			if !ok {
				return types.Tick{}, errors.Errorf("non-numeric price field %q", k)
			}
			px, found = decimal.NewFromFloat(f), true
			break
		}
	}
	if !found {
		return types.Tick{}, errors.New("no price field in latest trade")
	}

	ts := time.Now().UTC()
	for _, k := range []string{"t", "timestamp"} {
		if raw, ok := trade[k].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				ts = parsed.UTC()
			}
			break
		}
	}
	return types.Tick{Symbol: symbol, Price: px, Time: ts}, nil
}
