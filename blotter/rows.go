package blotter

import (
	"strings"

	"oems-dashboard/order"
)

// OrderRow 订单表格行，所有缺省值已替换。
type OrderRow struct {
	Timestamp      string `json:"timestamp"`
	ClOrdID        string `json:"clOrdId"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	OrderType      string `json:"orderType"`
	Quantity       int64  `json:"quantity"`
	Price          string `json:"price"`
	FilledQuantity int64  `json:"filledQuantity"`
	LeavesQuantity int64  `json:"leavesQuantity"`
	Status         string `json:"status"`
	Actions        string `json:"actions"`
}

// ExecutionRow 成交回报表格行。
type ExecutionRow struct {
	Timestamp    string `json:"timestamp"`
	ExecID       string `json:"execId"`
	ClOrdID      string `json:"clOrdId"`
	OrigClOrdID  string `json:"origClOrdId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	ExecType     string `json:"execType"`
	LastQuantity int64  `json:"lastQuantity"`
	LastPrice    string `json:"lastPrice"`
	CumQuantity  int64  `json:"cumQuantity"`
	AvgPrice     string `json:"avgPrice"`
	OrderStatus  string `json:"orderStatus"`
}

// NormalizeOrderRow never fails; missing fields fall back to defaults.
func NormalizeOrderRow(o order.Order) OrderRow {
	qty := o.Quantity.Or(0)
	return OrderRow{
		Timestamp:      FormatTimestamp(string(o.Timestamp)),
		ClOrdID:        o.ClOrdID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		OrderType:      string(o.OrderType),
		Quantity:       qty,
		Price:          FormatPrice(o.Price),
		FilledQuantity: o.FilledQuantity.Or(0),
		LeavesQuantity: o.LeavesQuantity.Or(qty),
		Status:         string(o.Status),
		Actions:        order.ActionsGlyph(o),
	}
}

// NormalizeOrderRows keeps input order.
func NormalizeOrderRows(orders []order.Order) []OrderRow {
	out := make([]OrderRow, 0, len(orders))
	for _, o := range orders {
		out = append(out, NormalizeOrderRow(o))
	}
	return out
}

func NormalizeExecutionRow(e order.Execution) ExecutionRow {
	return ExecutionRow{
		Timestamp:    FormatTimestamp(string(e.Timestamp)),
		ExecID:       e.ExecID,
		ClOrdID:      e.ClOrdID,
		OrigClOrdID:  e.OrigClOrdID,
		Symbol:       e.Symbol,
		Side:         string(e.Side),
		ExecType:     string(e.ExecType),
		LastQuantity: e.LastQuantity.Or(0),
		LastPrice:    FormatMoney(e.LastPrice),
		CumQuantity:  e.CumQuantity.Or(0),
		AvgPrice:     FormatMoney(e.AvgPrice),
		OrderStatus:  string(e.OrderStatus),
	}
}

func NormalizeExecutionRows(execs []order.Execution) []ExecutionRow {
	out := make([]ExecutionRow, 0, len(execs))
	for _, e := range execs {
		out = append(out, NormalizeExecutionRow(e))
	}
	return out
}

// Filter 订单表过滤条件。
type Filter string

const (
	FilterAll     Filter = "all"
	FilterWorking Filter = "working"
	FilterFilled  Filter = "filled"
)

// ParseFilter maps unknown values to FilterAll.
func ParseFilter(s string) Filter {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterWorking, FilterFilled:
		return f
	default:
		return FilterAll
	}
}

// FilterOrders is a stable filter; the input slice is not modified.
func FilterOrders(orders []order.Order, f Filter) []order.Order {
	switch ParseFilter(string(f)) {
	case FilterWorking:
		return keep(orders, func(o order.Order) bool { return o.Status.IsOpen() })
	case FilterFilled:
		return keep(orders, func(o order.Order) bool { return o.Status.Normalize() == order.StatusFilled })
	default:
		return orders
	}
}

func keep(orders []order.Order, pred func(order.Order) bool) []order.Order {
	out := make([]order.Order, 0, len(orders))
	for _, o := range orders {
		if pred(o) {
			out = append(out, o)
		}
	}
	return out
}

// StatusColor 选中订单状态徽标颜色。
func StatusColor(status string) string {
	switch order.Status(status).Normalize() {
	case order.StatusNew, order.StatusPending, order.StatusPendingNew:
		return "blue"
	case order.StatusPartiallyFilled:
		return "yellow"
	case order.StatusPendingReplace:
		return "cyan"
	case order.StatusPendingCancel:
		return "orange"
	default:
		return "gray"
	}
}

// SideColor BUY 绿 / SELL 红。
func SideColor(side string) string {
	if strings.EqualFold(side, string(order.SideBuy)) {
		return "#00d4aa"
	}
	return "#ff6b6b"
}
