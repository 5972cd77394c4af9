package order

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型。
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
	TypeStop   OrderType = "STOP"
)

// Status represents the order lifecycle as reported by the backend.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPending         Status = "PENDING"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusPendingReplace  Status = "PENDING_REPLACE"
	StatusPendingNew      Status = "PENDING_NEW"
	StatusPendingCancel   Status = "PENDING_CANCEL"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusReplaced        Status = "REPLACED"
	StatusRejected        Status = "REJECTED"
)

// ExecType 成交回报类型。
type ExecType string

const (
	ExecFill        ExecType = "FILL"
	ExecPartialFill ExecType = "PARTIAL_FILL"
	ExecCancelled   ExecType = "CANCELLED"
	ExecReplaced    ExecType = "REPLACED"
	ExecRejected    ExecType = "REJECTED"
)

// Order holds an order as returned by GET /orders.
// Numeric fields are optional on the wire; absent values stay invalid until
// the blotter substitutes defaults.
type Order struct {
	ClOrdID        string    `json:"clOrdId"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	OrderType      OrderType `json:"orderType"`
	Quantity       Qty       `json:"quantity"`
	Price          Decimal   `json:"price"`
	FilledQuantity Qty       `json:"filledQuantity"`
	LeavesQuantity Qty       `json:"leavesQuantity"`
	Status         Status    `json:"status"`
	Timestamp      Stamp     `json:"timestamp"`
}

// Execution 成交回报（GET /executions）。
type Execution struct {
	ExecID       string   `json:"execId"`
	ClOrdID      string   `json:"clOrdId"`
	OrigClOrdID  string   `json:"origClOrdId,omitempty"`
	Symbol       string   `json:"symbol"`
	Side         Side     `json:"side"`
	ExecType     ExecType `json:"execType"`
	LastQuantity Qty      `json:"lastQuantity"`
	LastPrice    Decimal  `json:"lastPrice"`
	CumQuantity  Qty      `json:"cumQuantity"`
	AvgPrice     Decimal  `json:"avgPrice"`
	OrderStatus  Status   `json:"orderStatus"`
	Timestamp    Stamp    `json:"timestamp"`
}

// Session FIX 会话状态（GET /sessions）。
type Session struct {
	SenderCompID string `json:"senderCompId"`
	TargetCompID string `json:"targetCompId"`
	LoggedOn     bool   `json:"loggedOn"`
}
