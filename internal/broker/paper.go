package broker

import (
	"context"

	"quantbot/types"

	"github.com/opentracing/opentracing-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var basisPoint = decimal.NewFromInt(10000)

type PaperConfig struct {
	SlippageBps        float64 `mapstructure:"slippage_bps"`
	CommissionPerShare float64 `mapstructure:"commission_per_share"`
}

// PaperBroker fills every order immediately at its limit or reference
// price, moved against the trader by a fixed number of basis points.
type PaperBroker struct {
	ledger     *Ledger
	slippage   decimal.Decimal
	commission decimal.Decimal
	logger     *zap.Logger
}

func NewPaperBroker(cfg PaperConfig, logger *zap.Logger) *PaperBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperBroker{
		ledger:     NewLedger(),
		slippage:   decimal.NewFromFloat(cfg.SlippageBps).Div(basisPoint),
		commission: decimal.NewFromFloat(cfg.CommissionPerShare),
		logger:     logger,
	}
}

func (b *PaperBroker) Submit(ctx context.Context, order types.Order, ref decimal.NullDecimal) (types.Fill, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "broker.paper.submit")
	defer span.Finish()
	span.SetTag("symbol", order.Symbol)
	span.SetTag("side", string(order.Side))

	if order.Quantity <= 0 {
		return types.Fill{}, ErrInvalidQuantity
	}
	px, err := fillPrice(order, ref)
	if err != nil {
		span.SetTag("error", true)
		return types.Fill{}, err
	}

	fill := types.NewFill(order, b.applySlippage(px, order.Side), b.commission.Mul(decimal.NewFromInt(order.Quantity)), order.CreatedAt)
	pos := b.ledger.Apply(fill)

	b.logger.Debug("paper fill",
		zap.String("id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Int64("qty", order.Quantity),
		zap.String("price", fill.Price.String()),
		zap.Int64("position", pos.Quantity),
	)
	return fill, nil
}

func (b *PaperBroker) Position(symbol string) types.Position {
	return b.ledger.Position(symbol)
}

func (b *PaperBroker) Fills() []types.Fill {
	return b.ledger.Fills()
}

func (b *PaperBroker) applySlippage(px decimal.Decimal, side types.Side) decimal.Decimal {
	slip := px.Mul(b.slippage)
	if side == types.SideTypeBuy {
		return px.Add(slip)
	}
	return px.Sub(slip)
}
