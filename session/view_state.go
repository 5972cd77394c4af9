// Package session holds per-browser view state and the hub that serializes
// every mutation of it: poll results and user actions alike.
package session

import (
	"time"

	"oems-dashboard/action"
	"oems-dashboard/blotter"
	"oems-dashboard/order"
)

// SelectionState 改单/撤单弹窗状态机。
type SelectionState string

const (
	Idle     SelectionState = "idle"
	Selected SelectionState = "selected"
)

// Notice 界面提示。
type Notice struct {
	Level   action.Level `json:"level"`
	Message string       `json:"message"`
}

func noticeOf(out action.Outcome) *Notice {
	return &Notice{Level: out.Level, Message: out.Message}
}

// Selection 选中订单的快照。选中后不随轮询刷新，amend/cancel 的目标始终取自这里。
type Selection struct {
	Order  order.Order
	Row    blotter.OrderRow
	Notice *Notice
}

// Target 转换为 action 层的目标。
func (s *Selection) Target() action.Target {
	return action.Target{ClOrdID: s.Order.ClOrdID, Symbol: s.Order.Symbol, Side: s.Order.Side}
}

// ViewState 单个浏览器会话的界面状态。只能在 Hub 事件循环内读写。
type ViewState struct {
	ID           string
	Filter       blotter.Filter
	Selection    *Selection
	EntryNotice  *Notice
	ActionNotice *Notice
	LastSeen     time.Time

	// 点击清空时的成交数据序号，在更新的一轮到达前不显示成交。
	execsHiddenAt uint64
	execsHidden   bool
}

func NewViewState(id string) *ViewState {
	return &ViewState{ID: id, Filter: blotter.FilterAll}
}

func (v *ViewState) State() SelectionState {
	if v.Selection == nil {
		return Idle
	}
	return Selected
}

// Select 只有操作标记非空的行可以进入 Selected；再次选中同一订单关闭弹窗。
// 返回值表示状态是否发生变化。
func (v *ViewState) Select(o order.Order) bool {
	row := blotter.NormalizeOrderRow(o)
	if row.Actions == "" {
		return false
	}
	if v.Selection != nil && v.Selection.Order.ClOrdID == o.ClOrdID {
		v.Selection = nil
		return true
	}
	v.Selection = &Selection{Order: o, Row: row}
	return true
}

func (v *ViewState) Dismiss() {
	v.Selection = nil
}

func (v *ViewState) SetFilter(s string) {
	v.Filter = blotter.ParseFilter(s)
}

// ApplyOutcome 成功后关闭弹窗（仍是同一目标时）；失败时弹窗保留并显示提示。
func (v *ViewState) ApplyOutcome(target action.Target, out action.Outcome) {
	sel := v.Selection
	sameTarget := sel != nil && sel.Order.ClOrdID == target.ClOrdID
	if out.OK {
		if sameTarget {
			v.Selection = nil
		}
		v.ActionNotice = noticeOf(out)
		return
	}
	if sameTarget {
		sel.Notice = noticeOf(out)
		return
	}
	v.ActionNotice = noticeOf(out)
}

func (v *ViewState) hideExecutions(tick uint64) {
	v.execsHidden = true
	v.execsHiddenAt = tick
}

func (v *ViewState) executionsVisible(tick uint64) bool {
	if !v.execsHidden {
		return true
	}
	if tick > v.execsHiddenAt {
		v.execsHidden = false
		return true
	}
	return false
}
