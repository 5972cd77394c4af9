package blotter

import "oems-dashboard/order"

// Stats 顶部统计卡片，基于未过滤的订单列表。
type Stats struct {
	Total     int `json:"total"`
	Filled    int `json:"filled"`
	Partial   int `json:"partial"`
	Working   int `json:"working"`
	Cancelled int `json:"cancelled"`
	Rejected  int `json:"rejected"`
}

func ComputeStats(orders []order.Order) Stats {
	s := Stats{Total: len(orders)}
	for _, o := range orders {
		st := o.Status.Normalize()
		if st.IsOpen() {
			s.Working++
		}
		switch st {
		case order.StatusFilled:
			s.Filled++
		case order.StatusPartiallyFilled:
			s.Partial++
		case order.StatusCancelled, order.StatusReplaced:
			s.Cancelled++
		case order.StatusRejected:
			s.Rejected++
		}
	}
	return s
}
