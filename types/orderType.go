package types

type Side string

type OrderType string

const (
	SideTypeBuy  Side = "BUY"
	SideTypeSell Side = "SELL"

	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// Order tags written to the trade log.
const (
	TagEntry     = "entry"
	TagExit      = "exit"
	TagFlipFlat  = "flip/flat"
	TagLiveEntry = "live-entry"
	TagLiveExit  = "live-exit"
	TagLiveFlip  = "live-flip"
)
