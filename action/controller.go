// Package action validates and sends new-order, amend and cancel requests.
// It never touches the displayed blotters: effects show up at the next poll tick.
package action

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"oems-dashboard/gateway"
	"oems-dashboard/infrastructure/logger"
	"oems-dashboard/infrastructure/monitor"
	"oems-dashboard/order"
)

// Backend 写操作的后端抽象，由 gateway.OEMSClient 实现。
type Backend interface {
	PlaceOrder(ctx context.Context, req gateway.NewOrderRequest) (gateway.PlaceResponse, error)
	AmendOrder(ctx context.Context, clOrdID string, req gateway.AmendRequest) error
	CancelOrder(ctx context.Context, clOrdID, symbol string, side order.Side) error
	ClearExecutions(ctx context.Context) error
}

// Level 提示信息级别。
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	MsgEnterSymbolQty   = "Enter symbol and quantity"
	MsgEnterLimitPrice  = "Enter price for limit order"
	MsgSelectSide       = "Select BUY or SELL"
	MsgEnterAmendFields = "Enter new quantity or price"
	MsgNoSelection      = "No order selected"
	MsgOrderFailed      = "Order failed"
	MsgAmendSent        = "✓ Amend request sent"
	MsgAmendFailed      = "Amend failed"
	MsgCancelSent       = "✓ Cancel request sent"
	MsgCancelFailed     = "Cancel failed"
	MsgExecsCleared     = "Executions cleared"
)

// ErrNoSelection amend/cancel 时没有选中订单。
var ErrNoSelection = errors.New(MsgNoSelection)

// ValidationError 本地校验失败，未发出任何请求。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Outcome 一次操作的结果。Sent 表示是否真的发出了网络请求。
type Outcome struct {
	OK      bool   `json:"ok"`
	Sent    bool   `json:"sent"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
	ClOrdID string `json:"clOrdId,omitempty"`
	Err     error  `json:"-"`
}

func rejected(err error) Outcome {
	return Outcome{Level: LevelWarning, Message: err.Error(), Err: err}
}

// NewOrderInput 下单表单。Quantity/Price 为 nil 表示未填写。
type NewOrderInput struct {
	Symbol    string
	Side      order.Side
	OrderType order.OrderType
	Quantity  *int64
	Price     *float64
}

// Target 被改/撤的订单，取自选中时的快照，用户不可修改。
type Target struct {
	ClOrdID string
	Symbol  string
	Side    order.Side
}

// AmendInput 改单字段，nil 或 0 视为未填写。
type AmendInput struct {
	NewQuantity *int64
	NewPrice    *float64
}

// Controller 校验并发送写请求。没有内部状态，可被并发调用。
type Controller struct {
	backend Backend
	logger  *logger.Logger
	monitor *monitor.Monitor
}

func NewController(b Backend, l *logger.Logger, m *monitor.Monitor) *Controller {
	if l == nil {
		l = logger.NewNop()
	}
	return &Controller{backend: b, logger: l, monitor: m}
}

// BuildNewOrder 按顺序校验：symbol/数量 → 限价单价格 → 方向。
func BuildNewOrder(in NewOrderInput) (gateway.NewOrderRequest, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" || in.Quantity == nil || *in.Quantity <= 0 {
		return gateway.NewOrderRequest{}, &ValidationError{Message: MsgEnterSymbolQty}
	}
	typ := order.OrderType(strings.ToUpper(strings.TrimSpace(string(in.OrderType))))
	if typ == "" {
		typ = order.TypeLimit
	}
	if typ == order.TypeLimit && in.Price == nil {
		return gateway.NewOrderRequest{}, &ValidationError{Message: MsgEnterLimitPrice}
	}
	side, ok := parseSide(in.Side)
	if !ok {
		return gateway.NewOrderRequest{}, &ValidationError{Message: MsgSelectSide}
	}
	req := gateway.NewOrderRequest{
		Symbol:    symbol,
		Side:      side,
		OrderType: typ,
		Quantity:  *in.Quantity,
	}
	if typ == order.TypeLimit {
		px := *in.Price
		req.Price = &px
	}
	return req, nil
}

// BuildAmend 只携带实际填写的字段。
func BuildAmend(t Target, in AmendInput) (gateway.AmendRequest, error) {
	if t.ClOrdID == "" {
		return gateway.AmendRequest{}, ErrNoSelection
	}
	req := gateway.AmendRequest{Symbol: t.Symbol, Side: t.Side}
	if in.NewQuantity != nil && *in.NewQuantity != 0 {
		q := *in.NewQuantity
		req.NewQuantity = &q
	}
	if in.NewPrice != nil && *in.NewPrice != 0 {
		p := *in.NewPrice
		req.NewPrice = &p
	}
	if req.NewQuantity == nil && req.NewPrice == nil {
		return gateway.AmendRequest{}, &ValidationError{Message: MsgEnterAmendFields}
	}
	return req, nil
}

// Submit 下单。成功时返回服务端分配的 clOrdId。
func (c *Controller) Submit(ctx context.Context, in NewOrderInput) Outcome {
	req, err := BuildNewOrder(in)
	if err != nil {
		c.monitor.RecordAction("submit", "rejected")
		return rejected(err)
	}
	start := time.Now()
	resp, err := c.backend.PlaceOrder(ctx, req)
	c.monitor.RecordActionLatency("submit", time.Since(start).Seconds())
	fields := map[string]interface{}{"symbol": req.Symbol, "side": string(req.Side), "orderType": string(req.OrderType), "qty": req.Quantity}
	if err != nil {
		c.monitor.RecordAction("submit", "failed")
		fields["error"] = err.Error()
		c.logger.LogAction("submit", "", false, fields)
		return Outcome{Sent: true, Level: LevelError, Message: MsgOrderFailed, Err: err}
	}
	c.monitor.RecordAction("submit", "ok")
	c.logger.LogAction("submit", resp.ClOrdID, true, fields)
	return Outcome{
		OK:      true,
		Sent:    true,
		Level:   LevelSuccess,
		Message: fmt.Sprintf("✓ %s order sent: %s", req.Side, resp.ClOrdID),
		ClOrdID: resp.ClOrdID,
	}
}

// Amend 改单。
func (c *Controller) Amend(ctx context.Context, t Target, in AmendInput) Outcome {
	req, err := BuildAmend(t, in)
	if err != nil {
		c.monitor.RecordAction("amend", "rejected")
		return rejected(err)
	}
	fields := map[string]interface{}{"symbol": t.Symbol, "side": string(t.Side)}
	if req.NewQuantity != nil {
		fields["newQuantity"] = *req.NewQuantity
	}
	if req.NewPrice != nil {
		fields["newPrice"] = *req.NewPrice
	}
	return c.send(ctx, "amend", t.ClOrdID, fields, MsgAmendSent, MsgAmendFailed, func(ctx context.Context) error {
		return c.backend.AmendOrder(ctx, t.ClOrdID, req)
	})
}

// Cancel 撤单，symbol/side 作为查询参数。
func (c *Controller) Cancel(ctx context.Context, t Target) Outcome {
	if t.ClOrdID == "" {
		c.monitor.RecordAction("cancel", "rejected")
		return rejected(ErrNoSelection)
	}
	fields := map[string]interface{}{"symbol": t.Symbol, "side": string(t.Side)}
	return c.send(ctx, "cancel", t.ClOrdID, fields, MsgCancelSent, MsgCancelFailed, func(ctx context.Context) error {
		return c.backend.CancelOrder(ctx, t.ClOrdID, t.Symbol, t.Side)
	})
}

// ClearExecutions 清空成交日志。后端结果被忽略，总是返回成功。
func (c *Controller) ClearExecutions(ctx context.Context) Outcome {
	if err := c.backend.ClearExecutions(ctx); err != nil {
		c.logger.Debug("clear executions failed", zap.Error(err))
	}
	c.monitor.RecordAction("clear_executions", "ok")
	return Outcome{OK: true, Sent: true, Level: LevelInfo, Message: MsgExecsCleared}
}

func (c *Controller) send(ctx context.Context, kind, clOrdID string, fields map[string]interface{}, okMsg, failMsg string, call func(context.Context) error) Outcome {
	start := time.Now()
	err := call(ctx)
	c.monitor.RecordActionLatency(kind, time.Since(start).Seconds())
	if err != nil {
		c.monitor.RecordAction(kind, "failed")
		fields["error"] = err.Error()
		c.logger.LogAction(kind, clOrdID, false, fields)
		return Outcome{Sent: true, Level: LevelError, Message: failMsg, ClOrdID: clOrdID, Err: err}
	}
	c.monitor.RecordAction(kind, "ok")
	c.logger.LogAction(kind, clOrdID, true, fields)
	return Outcome{OK: true, Sent: true, Level: LevelInfo, Message: okMsg, ClOrdID: clOrdID}
}

// parseSide 只接受 BUY/SELL（不区分大小写），缺省或其他值不下单。
func parseSide(s order.Side) (order.Side, bool) {
	switch side := order.Side(strings.ToUpper(strings.TrimSpace(string(s)))); side {
	case order.SideBuy, order.SideSell:
		return side, true
	}
	return "", false
}

// ParseQuantity 解析表单数量；空白或非整数视为未填写。
func ParseQuantity(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &v
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return nil
	}
	v := int64(f)
	return &v
}

// ParsePrice 解析表单价格，容忍 "$" 前缀；解析失败视为未填写。
func ParsePrice(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, "$", ""))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
