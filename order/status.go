package order

import "strings"

// ActionsMarker is attached to rows that may open the amend/cancel dialog.
const ActionsMarker = "⋮"

// openStatuses 可改单/撤单的状态集合。其余状态均为终态。
var openStatuses = map[Status]struct{}{
	StatusNew:             {},
	StatusPending:         {},
	StatusPartiallyFilled: {},
	StatusPendingReplace:  {},
	StatusPendingNew:      {},
	StatusPendingCancel:   {},
}

// IsOpenStatus reports whether status (any case) belongs to the open set.
func IsOpenStatus(status string) bool {
	_, ok := openStatuses[Status(strings.ToUpper(status))]
	return ok
}

// Normalize 统一大写，不去空白。
func (s Status) Normalize() Status {
	return Status(strings.ToUpper(string(s)))
}

// IsOpen 判断是否为活跃状态。
func (s Status) IsOpen() bool {
	return IsOpenStatus(string(s))
}

// ActionsGlyph returns ActionsMarker iff the order status is open.
// Only the status field is consulted.
func ActionsGlyph(o Order) string {
	if o.Status.IsOpen() {
		return ActionsMarker
	}
	return ""
}

// OpenStatuses lists the open set in a stable order.
func OpenStatuses() []Status {
	return []Status{
		StatusNew,
		StatusPending,
		StatusPartiallyFilled,
		StatusPendingReplace,
		StatusPendingNew,
		StatusPendingCancel,
	}
}

// TerminalStatuses lists the statuses that never carry actions.
func TerminalStatuses() []Status {
	return []Status{StatusFilled, StatusCancelled, StatusReplaced, StatusRejected}
}
