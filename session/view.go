package session

import (
	"fmt"

	"oems-dashboard/blotter"
	"oems-dashboard/order"
)

// QuickQuantities 下单面板的快捷数量。
var QuickQuantities = []int64{100, 500, 1000, 5000}

const clockLayout = "2006-01-02 15:04:05"

// View 渲染用的只读视图，可直接序列化为 JSON。
type View struct {
	SID             string                 `json:"sid"`
	Clock           string                 `json:"clock"`
	Connected       bool                   `json:"connected"`
	Badge           string                 `json:"badge"`
	Footer          string                 `json:"footer"`
	Stats           blotter.Stats          `json:"stats"`
	Filter          blotter.Filter         `json:"filter"`
	Orders          []blotter.OrderRow     `json:"orders"`
	Executions      []blotter.ExecutionRow `json:"executions"`
	Selection       SelectionState         `json:"selection"`
	Dialog          *Dialog                `json:"dialog,omitempty"`
	EntryNotice     *Notice                `json:"entryNotice,omitempty"`
	ActionNotice    *Notice                `json:"actionNotice,omitempty"`
	QuickQuantities []int64                `json:"quickQuantities"`
}

// Dialog 改单/撤单弹窗，内容来自选中时的快照。
type Dialog struct {
	ClOrdID         string   `json:"clOrdId"`
	Symbol          string   `json:"symbol"`
	Side            string   `json:"side"`
	SideColor       string   `json:"sideColor"`
	OrderType       string   `json:"orderType"`
	Status          string   `json:"status"`
	StatusColor     string   `json:"statusColor"`
	Quantity        int64    `json:"quantity"`
	FilledQuantity  int64    `json:"filledQuantity"`
	LeavesQuantity  int64    `json:"leavesQuantity"`
	Price           string   `json:"price"`
	PrefillQuantity int64    `json:"prefillQuantity"`
	PrefillPrice    *float64 `json:"prefillPrice,omitempty"`
	Notice          *Notice  `json:"notice,omitempty"`
}

func (h *Hub) render(v *ViewState) View {
	s := h.snap
	out := View{
		SID:             v.ID,
		Clock:           h.now().Format(clockLayout),
		Connected:       s.connected,
		Badge:           "DISCONNECTED",
		Footer:          footerOf(s.sessions, s.connected),
		Stats:           blotter.ComputeStats(s.orders),
		Filter:          v.Filter,
		Orders:          blotter.NormalizeOrderRows(blotter.FilterOrders(s.orders, v.Filter)),
		Executions:      []blotter.ExecutionRow{},
		Selection:       v.State(),
		EntryNotice:     v.EntryNotice,
		ActionNotice:    v.ActionNotice,
		QuickQuantities: QuickQuantities,
	}
	if s.connected {
		out.Badge = "CONNECTED"
	}
	if v.executionsVisible(s.execsTick) {
		out.Executions = blotter.NormalizeExecutionRows(s.execs)
	}
	if sel := v.Selection; sel != nil {
		out.Dialog = dialogOf(sel)
	}
	return out
}

func dialogOf(sel *Selection) *Dialog {
	row := sel.Row
	d := &Dialog{
		ClOrdID:         row.ClOrdID,
		Symbol:          row.Symbol,
		Side:            row.Side,
		SideColor:       blotter.SideColor(row.Side),
		OrderType:       row.OrderType,
		Status:          row.Status,
		StatusColor:     blotter.StatusColor(row.Status),
		Quantity:        row.Quantity,
		FilledQuantity:  row.FilledQuantity,
		LeavesQuantity:  row.LeavesQuantity,
		Price:           row.Price,
		PrefillQuantity: row.Quantity,
		Notice:          sel.Notice,
	}
	if px, ok := blotter.ParseDisplayPrice(row.Price); ok {
		d.PrefillPrice = &px
	}
	return d
}

// footerOf 使用第一条已登录的会话记录。
func footerOf(sessions []order.Session, connected bool) string {
	if !connected {
		return "No active session"
	}
	for _, s := range sessions {
		if s.LoggedOn {
			return fmt.Sprintf("Session: %s → %s", s.SenderCompID, s.TargetCompID)
		}
	}
	return "No active session"
}

func bucketsOf(s blotter.Stats) map[string]int {
	return map[string]int{
		"total":     s.Total,
		"filled":    s.Filled,
		"partial":   s.Partial,
		"working":   s.Working,
		"cancelled": s.Cancelled,
		"rejected":  s.Rejected,
	}
}
