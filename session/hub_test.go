package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oems-dashboard/action"
	"oems-dashboard/blotter"
	"oems-dashboard/gateway"
	"oems-dashboard/infrastructure/alert"
	"oems-dashboard/order"
	"oems-dashboard/poller"
)

type fakeBackend struct {
	mu        sync.Mutex
	cancels   []string
	amends    []gateway.AmendRequest
	cleared   int
	errAmend  error
	errCancel error
}

func (f *fakeBackend) PlaceOrder(_ context.Context, req gateway.NewOrderRequest) (gateway.PlaceResponse, error) {
	return gateway.PlaceResponse{ClOrdID: "NEW-" + req.Symbol}, nil
}

func (f *fakeBackend) AmendOrder(_ context.Context, _ string, req gateway.AmendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amends = append(f.amends, req)
	return f.errAmend
}

func (f *fakeBackend) CancelOrder(_ context.Context, id, _ string, _ order.Side) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return f.errCancel
}

func (f *fakeBackend) ClearExecutions(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func newTestHub(t *testing.T, be action.Backend, alerts *alert.Manager) *Hub {
	t.Helper()
	h := NewHub(Config{}, Components{
		Controller: action.NewController(be, nil, nil),
		Alerts:     alerts,
	})
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func ordersResult(tick uint64, orders ...order.Order) poller.Result[[]order.Order] {
	return poller.Result[[]order.Order]{Tick: tick, Data: orders}
}

func sessionsResult(tick uint64, loggedOn bool) poller.Result[[]order.Session] {
	return poller.Result[[]order.Session]{Tick: tick, Data: []order.Session{
		{SenderCompID: "CLIENT", TargetCompID: "EXCH", LoggedOn: loggedOn},
	}}
}

func TestHubOpenAssignsSessionID(t *testing.T) {
	h := newTestHub(t, &fakeBackend{}, nil)
	ctx := context.Background()

	v, err := h.Open(ctx, "")
	require.NoError(t, err)
	_, err = uuid.Parse(v.SID)
	require.NoError(t, err)
	assert.Equal(t, "DISCONNECTED", v.Badge)
	assert.Equal(t, "No active session", v.Footer)
	assert.Empty(t, v.Orders)
	assert.Equal(t, Idle, v.Selection)
	assert.Equal(t, []int64{100, 500, 1000, 5000}, v.QuickQuantities)

	again, err := h.Open(ctx, v.SID)
	require.NoError(t, err)
	assert.Equal(t, v.SID, again.SID)
}

func TestHubRendersSnapshot(t *testing.T) {
	h := newTestHub(t, &fakeBackend{}, nil)
	ctx := context.Background()

	h.ApplySessions(sessionsResult(1, true))
	h.ApplyOrders(ordersResult(1,
		testOrder("A1", order.StatusNew),
		testOrder("F1", order.StatusFilled),
	))
	h.ApplyExecutions(poller.Result[[]order.Execution]{Tick: 1, Data: []order.Execution{
		{ExecID: "E1", ClOrdID: "F1", LastPrice: order.Dec(10), AvgPrice: order.Decimal{}},
	}})

	v, err := h.Open(ctx, "")
	require.NoError(t, err)
	assert.True(t, v.Connected)
	assert.Equal(t, "CONNECTED", v.Badge)
	assert.Equal(t, "Session: CLIENT → EXCH", v.Footer)
	require.Len(t, v.Orders, 2)
	assert.Equal(t, order.ActionsMarker, v.Orders[0].Actions)
	assert.Empty(t, v.Orders[1].Actions)
	assert.Equal(t, blotter.Stats{Total: 2, Filled: 1, Working: 1}, v.Stats)
	require.Len(t, v.Executions, 1)
	assert.Equal(t, "$10.00", v.Executions[0].LastPrice)
	assert.Equal(t, "-", v.Executions[0].AvgPrice)

	v, err = h.SetFilter(ctx, v.SID, "filled")
	require.NoError(t, err)
	require.Len(t, v.Orders, 1)
	assert.Equal(t, "F1", v.Orders[0].ClOrdID)
	assert.Equal(t, 2, v.Stats.Total, "stats use the unfiltered list")
}

func TestHubLastScheduledWins(t *testing.T) {
	h := newTestHub(t, &fakeBackend{}, nil)
	ctx := context.Background()

	h.ApplyOrders(ordersResult(5, testOrder("NEWER", order.StatusNew)))
	h.ApplyOrders(ordersResult(4, testOrder("OLDER", order.StatusNew)))

	v, err := h.Open(ctx, "")
	require.NoError(t, err)
	require.Len(t, v.Orders, 1)
	assert.Equal(t, "NEWER", v.Orders[0].ClOrdID)
}

func TestHubReadFailures(t *testing.T) {
	h := newTestHub(t, &fakeBackend{}, nil)
	ctx := context.Background()

	h.ApplyOrders(poller.Result[[]order.Order]{Tick: 1, Err: errors.New("timeout")})
	v, err := h.Open(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, v.Orders, "empty before the first success")

	h.ApplySessions(sessionsResult(2, true))
	h.ApplyOrders(ordersResult(2, testOrder("A1", order.StatusNew)))
	h.ApplyOrders(poller.Result[[]order.Order]{Tick: 3, Err: &gateway.StatusError{Op: "orders", Code: 500}})
	h.ApplySessions(poller.Result[[]order.Session]{Tick: 3, Err: errors.New("refused")})

	v, err = h.Open(ctx, v.SID)
	require.NoError(t, err)
	assert.Len(t, v.Orders, 1, "previous orders persist on failure")
	assert.False(t, v.Connected, "failed session fetch renders disconnected")
	assert.Equal(t, "No active session", v.Footer)
}

func TestHubSelectAndCancel(t *testing.T) {
	be := &fakeBackend{}
	h := newTestHub(t, be, nil)
	ctx := context.Background()

	h.ApplyOrders(ordersResult(1, testOrder("A1", order.StatusNew), testOrder("F1", order.StatusFilled)))
	v, err := h.Open(ctx, "")
	require.NoError(t, err)
	sid := v.SID

	v, err = h.Select(ctx, sid, "F1")
	require.NoError(t, err)
	assert.Equal(t, Idle, v.Selection, "terminal rows cannot be selected")

	v, err = h.Select(ctx, sid, "UNKNOWN")
	require.NoError(t, err)
	assert.Equal(t, Idle, v.Selection)

	v, err = h.Select(ctx, sid, "A1")
	require.NoError(t, err)
	require.Equal(t, Selected, v.Selection)
	require.NotNil(t, v.Dialog)
	assert.Equal(t, int64(100), v.Dialog.PrefillQuantity)
	require.NotNil(t, v.Dialog.PrefillPrice)
	assert.Equal(t, 10.0, *v.Dialog.PrefillPrice)
	assert.Equal(t, "blue", v.Dialog.StatusColor)

	v, err = h.Cancel(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, Idle, v.Selection)
	assert.Nil(t, v.Dialog)
	assert.Equal(t, action.MsgCancelSent, v.ActionNotice.Message)
	assert.Equal(t, []string{"A1"}, be.cancels)

	// the order is still open in the next poll; the dialog stays closed
	h.ApplyOrders(ordersResult(2, testOrder("A1", order.StatusPendingCancel)))
	v, err = h.Open(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, Idle, v.Selection)
	assert.Equal(t, "PENDING_CANCEL", v.Orders[0].Status)
}

func TestHubAmendFailureKeepsDialog(t *testing.T) {
	be := &fakeBackend{errAmend: errors.New("500")}
	h := newTestHub(t, be, nil)
	ctx := context.Background()

	h.ApplyOrders(ordersResult(1, testOrder("A1", order.StatusNew)))
	v, err := h.Open(ctx, "")
	require.NoError(t, err)
	sid := v.SID
	_, err = h.Select(ctx, sid, "A1")
	require.NoError(t, err)

	q := int64(0)
	v, err = h.Amend(ctx, sid, action.AmendInput{NewQuantity: &q})
	require.NoError(t, err)
	require.Equal(t, Selected, v.Selection)
	assert.Equal(t, action.MsgEnterAmendFields, v.Dialog.Notice.Message)
	assert.Empty(t, be.amends)

	q = 200
	v, err = h.Amend(ctx, sid, action.AmendInput{NewQuantity: &q})
	require.NoError(t, err)
	require.Equal(t, Selected, v.Selection)
	assert.Equal(t, action.MsgAmendFailed, v.Dialog.Notice.Message)
	require.Len(t, be.amends, 1)
	assert.Equal(t, "AAPL", be.amends[0].Symbol)

	be.mu.Lock()
	be.errAmend = nil
	be.mu.Unlock()
	v, err = h.Amend(ctx, sid, action.AmendInput{NewQuantity: &q})
	require.NoError(t, err)
	assert.Equal(t, Idle, v.Selection)
}

func TestHubAmendWithoutSelection(t *testing.T) {
	h := newTestHub(t, &fakeBackend{}, nil)
	v, err := h.Cancel(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, v.ActionNotice)
	assert.Equal(t, action.MsgNoSelection, v.ActionNotice.Message)
}

func TestHubSubmitLeavesOrdersUntouched(t *testing.T) {
	h := newTestHub(t, &fakeBackend{}, nil)
	ctx := context.Background()
	q := int64(10)
	v, err := h.Submit(ctx, "", action.NewOrderInput{Symbol: "msft", Side: order.SideSell, OrderType: order.TypeMarket, Quantity: &q})
	require.NoError(t, err)
	require.NotNil(t, v.EntryNotice)
	assert.Equal(t, "✓ SELL order sent: NEW-MSFT", v.EntryNotice.Message)
	assert.Empty(t, v.Orders)
}

func TestHubClearExecutions(t *testing.T) {
	be := &fakeBackend{}
	h := newTestHub(t, be, nil)
	ctx := context.Background()
	execs := []order.Execution{{ExecID: "E1"}}

	h.ApplyExecutions(poller.Result[[]order.Execution]{Tick: 1, Data: execs})
	v, err := h.Open(ctx, "")
	require.NoError(t, err)
	require.Len(t, v.Executions, 1)

	v, err = h.ClearExecutions(ctx, v.SID)
	require.NoError(t, err)
	assert.Empty(t, v.Executions)
	assert.Equal(t, 1, be.cleared)

	h.ApplyExecutions(poller.Result[[]order.Execution]{Tick: 2, Data: execs})
	v, err = h.Open(ctx, v.SID)
	require.NoError(t, err)
	assert.Len(t, v.Executions, 1)
}

func TestHubConnectionAlerts(t *testing.T) {
	ch := alert.NewMockChannel("mock")
	h := newTestHub(t, &fakeBackend{}, alert.NewManager([]alert.Channel{ch}, 0))
	ctx := context.Background()

	h.ApplySessions(sessionsResult(1, true))
	h.ApplySessions(sessionsResult(2, true))
	h.ApplySessions(sessionsResult(3, false))
	h.ApplySessions(sessionsResult(4, true))
	_, err := h.Open(ctx, "")
	require.NoError(t, err)

	alerts := ch.GetAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "WARNING", alerts[0].Level)
	assert.Equal(t, "INFO", alerts[1].Level)
}

func TestHubSubscribeAndSweep(t *testing.T) {
	h := newTestHub(t, &fakeBackend{}, nil)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.do(ctx, func() { h.now = func() time.Time { return now } }))

	v, err := h.Open(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01 10:00:00", v.Clock)

	sig, cancel, err := h.Subscribe(ctx, v.SID)
	require.NoError(t, err)
	h.ApplyOrders(ordersResult(1, testOrder("A1", order.StatusNew)))
	select {
	case <-sig:
	case <-time.After(time.Second):
		t.Fatal("no update signal")
	}

	require.NoError(t, h.do(ctx, func() {
		now = now.Add(time.Hour)
		h.sweep()
	}))
	views, subs, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, views, "subscribed views survive the sweep")
	assert.Equal(t, 1, subs)

	cancel()
	require.NoError(t, h.do(ctx, func() { h.sweep() }))
	views, subs, err = h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, views)
	assert.Equal(t, 0, subs)
}

func TestHubCancelledContext(t *testing.T) {
	h := newTestHub(t, &fakeBackend{}, nil)
	base, err := h.Open(context.Background(), "")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 2000; i++ {
		v, err := h.Open(cancelled, base.SID)
		require.ErrorIs(t, err, context.Canceled)
		require.Empty(t, v.SID)
	}

	// 请求进行中被取消：要么完整返回视图，要么返回 ctx 错误，不能在返回后再被写
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 40; j++ {
				ctx, cancel := context.WithCancel(context.Background())
				go cancel()
				v, err := h.Open(ctx, base.SID)
				if err != nil {
					assert.ErrorIs(t, err, context.Canceled)
					continue
				}
				assert.Equal(t, base.SID, v.SID)
			}
		}()
	}
	wg.Wait()

	v, err := h.Open(context.Background(), base.SID)
	require.NoError(t, err)
	assert.Equal(t, base.SID, v.SID)
}

func TestHubStopped(t *testing.T) {
	h := NewHub(Config{}, Components{Controller: action.NewController(&fakeBackend{}, nil, nil)})
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop())
	_, err := h.Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrHubStopped)
	// 停止后的轮询结果被丢弃而不是阻塞
	h.ApplyOrders(ordersResult(1))
}
