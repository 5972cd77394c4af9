package action

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oems-dashboard/gateway"
	"oems-dashboard/infrastructure/monitor"
	"oems-dashboard/order"
)

type mockBackend struct {
	mu       sync.Mutex
	placed   []gateway.NewOrderRequest
	amended  map[string]gateway.AmendRequest
	canceled []Target
	cleared  int

	placeID   string
	errPlace  error
	errAmend  error
	errCancel error
	errClear  error
}

func newMockBackend() *mockBackend {
	return &mockBackend{placeID: "ORD-1", amended: make(map[string]gateway.AmendRequest)}
}

func (m *mockBackend) PlaceOrder(_ context.Context, req gateway.NewOrderRequest) (gateway.PlaceResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, req)
	if m.errPlace != nil {
		return gateway.PlaceResponse{}, m.errPlace
	}
	return gateway.PlaceResponse{ClOrdID: m.placeID}, nil
}

func (m *mockBackend) AmendOrder(_ context.Context, id string, req gateway.AmendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.amended[id] = req
	return m.errAmend
}

func (m *mockBackend) CancelOrder(_ context.Context, id, symbol string, side order.Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, Target{ClOrdID: id, Symbol: symbol, Side: side})
	return m.errCancel
}

func (m *mockBackend) ClearExecutions(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
	return m.errClear
}

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		name string
		in   NewOrderInput
		msg  string
	}{
		{"missing symbol", NewOrderInput{Side: order.SideBuy, Quantity: i64(100)}, MsgEnterSymbolQty},
		{"blank symbol", NewOrderInput{Symbol: "   ", Quantity: i64(100)}, MsgEnterSymbolQty},
		{"missing qty", NewOrderInput{Symbol: "AAPL", OrderType: order.TypeMarket}, MsgEnterSymbolQty},
		{"zero qty", NewOrderInput{Symbol: "AAPL", Quantity: i64(0)}, MsgEnterSymbolQty},
		{"limit without price", NewOrderInput{Symbol: "AAPL", OrderType: order.TypeLimit, Quantity: i64(100)}, MsgEnterLimitPrice},
		{"default type is limit", NewOrderInput{Symbol: "AAPL", Quantity: i64(100)}, MsgEnterLimitPrice},
		{"symbol checked first", NewOrderInput{OrderType: order.TypeLimit}, MsgEnterSymbolQty},
		{"missing side", NewOrderInput{Symbol: "AAPL", OrderType: order.TypeMarket, Quantity: i64(100)}, MsgSelectSide},
		{"unknown side", NewOrderInput{Symbol: "AAPL", Side: "SHORT", OrderType: order.TypeMarket, Quantity: i64(100)}, MsgSelectSide},
		{"price checked before side", NewOrderInput{Symbol: "AAPL", Side: "x", OrderType: order.TypeLimit, Quantity: i64(100)}, MsgEnterLimitPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			be := newMockBackend()
			c := NewController(be, nil, nil)
			out := c.Submit(context.Background(), tc.in)
			assert.False(t, out.OK)
			assert.False(t, out.Sent)
			assert.Equal(t, tc.msg, out.Message)
			var verr *ValidationError
			assert.True(t, errors.As(out.Err, &verr))
			assert.Empty(t, be.placed, "no request on local validation failure")
		})
	}
}

func TestSubmitLimitAndMarket(t *testing.T) {
	be := newMockBackend()
	c := NewController(be, nil, monitor.New(monitor.DefaultConfig()))

	out := c.Submit(context.Background(), NewOrderInput{
		Symbol: " aapl ", Side: order.SideBuy, OrderType: order.TypeLimit, Quantity: i64(100), Price: f64(172.3),
	})
	require.True(t, out.OK)
	assert.Equal(t, "✓ BUY order sent: ORD-1", out.Message)
	assert.Equal(t, "ORD-1", out.ClOrdID)

	out = c.Submit(context.Background(), NewOrderInput{
		Symbol: "msft", Side: order.SideSell, OrderType: order.TypeMarket, Quantity: i64(5), Price: f64(99),
	})
	require.True(t, out.OK)

	require.Len(t, be.placed, 2)
	assert.Equal(t, "AAPL", be.placed[0].Symbol)
	require.NotNil(t, be.placed[0].Price)
	assert.Equal(t, 172.3, *be.placed[0].Price)
	assert.Equal(t, "MSFT", be.placed[1].Symbol)
	assert.Nil(t, be.placed[1].Price, "market orders carry no price")
	assert.Equal(t, order.TypeMarket, be.placed[1].OrderType)
}

func TestSubmitFailure(t *testing.T) {
	be := newMockBackend()
	be.errPlace = &gateway.StatusError{Op: "place order", Code: 500}
	c := NewController(be, nil, nil)
	out := c.Submit(context.Background(), NewOrderInput{Symbol: "AAPL", Side: order.SideBuy, OrderType: order.TypeMarket, Quantity: i64(1)})
	assert.False(t, out.OK)
	assert.True(t, out.Sent)
	assert.Equal(t, MsgOrderFailed, out.Message)
	assert.Equal(t, LevelError, out.Level)
}

func TestAmendValidation(t *testing.T) {
	be := newMockBackend()
	c := NewController(be, nil, nil)
	target := Target{ClOrdID: "A1", Symbol: "AAPL", Side: order.SideBuy}

	out := c.Amend(context.Background(), target, AmendInput{})
	assert.False(t, out.Sent)
	assert.Equal(t, MsgEnterAmendFields, out.Message)

	out = c.Amend(context.Background(), target, AmendInput{NewQuantity: i64(0), NewPrice: f64(0)})
	assert.False(t, out.Sent)
	assert.Equal(t, MsgEnterAmendFields, out.Message)

	out = c.Amend(context.Background(), Target{}, AmendInput{NewQuantity: i64(10)})
	assert.False(t, out.Sent)
	assert.ErrorIs(t, out.Err, ErrNoSelection)
	assert.Empty(t, be.amended)
}

func TestAmendOnlyQuantityPayload(t *testing.T) {
	var body map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/orders/A1", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	cli := gateway.NewOEMSClient(ts.URL + "/api")
	cli.HTTPClient = ts.Client()
	c := NewController(cli, nil, nil)

	out := c.Amend(context.Background(), Target{ClOrdID: "A1", Symbol: "AAPL", Side: order.SideBuy}, AmendInput{NewQuantity: i64(200)})
	require.True(t, out.OK)
	assert.Equal(t, MsgAmendSent, out.Message)
	assert.Len(t, body, 3)
	assert.Equal(t, "AAPL", body["symbol"])
	assert.Equal(t, "BUY", body["side"])
	assert.EqualValues(t, 200, body["newQuantity"])
	_, hasPrice := body["newPrice"]
	assert.False(t, hasPrice)
}

func TestAmendFailure(t *testing.T) {
	be := newMockBackend()
	be.errAmend = errors.New("boom")
	c := NewController(be, nil, nil)
	out := c.Amend(context.Background(), Target{ClOrdID: "A1", Symbol: "AAPL", Side: order.SideSell}, AmendInput{NewPrice: f64(11)})
	assert.False(t, out.OK)
	assert.True(t, out.Sent)
	assert.Equal(t, MsgAmendFailed, out.Message)
	require.Contains(t, be.amended, "A1")
	assert.Nil(t, be.amended["A1"].NewQuantity)
}

func TestCancel(t *testing.T) {
	be := newMockBackend()
	c := NewController(be, nil, nil)

	out := c.Cancel(context.Background(), Target{})
	assert.False(t, out.Sent)
	assert.Equal(t, MsgNoSelection, out.Message)

	target := Target{ClOrdID: "A1", Symbol: "AAPL", Side: order.SideBuy}
	out = c.Cancel(context.Background(), target)
	assert.True(t, out.OK)
	assert.Equal(t, MsgCancelSent, out.Message)
	assert.Equal(t, []Target{target}, be.canceled)

	be.errCancel = errors.New("timeout")
	out = c.Cancel(context.Background(), target)
	assert.False(t, out.OK)
	assert.Equal(t, MsgCancelFailed, out.Message)
}

func TestClearExecutionsIgnoresBackendResult(t *testing.T) {
	be := newMockBackend()
	be.errClear = errors.New("down")
	c := NewController(be, nil, nil)
	out := c.ClearExecutions(context.Background())
	assert.True(t, out.OK)
	assert.Equal(t, 1, be.cleared)
}

func TestParseInputs(t *testing.T) {
	assert.Nil(t, ParseQuantity(""))
	assert.Nil(t, ParseQuantity("abc"))
	assert.Nil(t, ParseQuantity("1.5"))
	assert.Equal(t, int64(100), *ParseQuantity(" 100 "))
	assert.Equal(t, int64(500), *ParseQuantity("500.0"))

	assert.Nil(t, ParsePrice(""))
	assert.Nil(t, ParsePrice("MKT"))
	assert.Equal(t, 10.0, *ParsePrice("$10.00"))
	assert.Equal(t, 172.3, *ParsePrice("172.3"))
}
