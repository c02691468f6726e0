package api

// OrderInfo is the REST view of one tracked order.
type OrderInfo struct {
	Digest    string `json:"digest"`
	ProductID uint32 `json:"product_id"`
	Side      string `json:"side"`
	PriceX18  string `json:"price_x18"`
	AmountX18 string `json:"amount_x18"`
	FilledX18 string `json:"filled_x18"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts"`
	Submitted string `json:"submitted_at"`
	Updated   string `json:"updated_at"`
}

// PositionInfo is the REST view of one perpetual position.
type PositionInfo struct {
	ProductID     uint32 `json:"product_id"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entry_price"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

// AccountResponse summarizes the trading subaccount.
type AccountResponse struct {
	Subaccount string        `json:"subaccount"`
	Health     string        `json:"health"`
	Balances   []BalanceInfo `json:"balances"`
}

type BalanceInfo struct {
	ProductID uint32 `json:"product_id"`
	Amount    string `json:"amount"`
}

// StatusResponse reports the session at a glance.
type StatusResponse struct {
	Subaccount string `json:"subaccount"`
	Products   int    `json:"products"`
	OpenOrders int    `json:"open_orders"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
