package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"oems-dashboard/order"
)

const (
	DefaultBaseURL      = "http://localhost:8081/api"
	DefaultReadTimeout  = 2 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// StatusError 后端返回非 200。
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d", e.Op, e.Code)
}

// NewOrderRequest POST /orders 请求体。Price 只在 LIMIT 单上出现。
type NewOrderRequest struct {
	Symbol    string          `json:"symbol"`
	Side      order.Side      `json:"side"`
	OrderType order.OrderType `json:"orderType"`
	Quantity  int64           `json:"quantity"`
	Price     *float64        `json:"price,omitempty"`
}

// AmendRequest PUT /orders/{clOrdId} 请求体，只携带实际修改的字段。
type AmendRequest struct {
	Symbol      string     `json:"symbol"`
	Side        order.Side `json:"side"`
	NewQuantity *int64     `json:"newQuantity,omitempty"`
	NewPrice    *float64   `json:"newPrice,omitempty"`
}

// PlaceResponse 下单应答。
type PlaceResponse struct {
	ClOrdID string `json:"clOrdId"`
}

// OEMSClient talks to the OEMS REST API. Every call carries its own timeout;
// reads use ReadTimeout and writes WriteTimeout. HTTPClient can be swapped for httptest.
type OEMSClient struct {
	BaseURL      string
	HTTPClient   *http.Client
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewOEMSClient 使用默认超时创建客户端。
func NewOEMSClient(baseURL string) *OEMSClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OEMSClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTPClient:   NewDefaultHTTPClient(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Sessions GET /sessions
func (c *OEMSClient) Sessions(ctx context.Context) ([]order.Session, error) {
	var out []order.Session
	err := c.getJSON(ctx, "sessions", "/sessions", &out)
	return out, err
}

// Orders GET /orders
func (c *OEMSClient) Orders(ctx context.Context) ([]order.Order, error) {
	var out []order.Order
	err := c.getJSON(ctx, "orders", "/orders", &out)
	return out, err
}

// Executions GET /executions?limit=N
func (c *OEMSClient) Executions(ctx context.Context, limit int) ([]order.Execution, error) {
	path := "/executions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []order.Execution
	err := c.getJSON(ctx, "executions", path, &out)
	return out, err
}

// PlaceOrder POST /orders
func (c *OEMSClient) PlaceOrder(ctx context.Context, req NewOrderRequest) (PlaceResponse, error) {
	var pr PlaceResponse
	resp, err := c.send(ctx, c.writeTimeout(), http.MethodPost, "/orders", req)
	if err != nil {
		return pr, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pr, &StatusError{Op: "place order", Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil && err != io.EOF {
		return pr, fmt.Errorf("decode place response: %w", err)
	}
	return pr, nil
}

// AmendOrder PUT /orders/{clOrdId}
func (c *OEMSClient) AmendOrder(ctx context.Context, clOrdID string, req AmendRequest) error {
	return c.expectOK(ctx, c.writeTimeout(), "amend order", http.MethodPut, "/orders/"+url.PathEscape(clOrdID), req)
}

// CancelOrder DELETE /orders/{clOrdId}?symbol=&side=
func (c *OEMSClient) CancelOrder(ctx context.Context, clOrdID, symbol string, side order.Side) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", string(side))
	path := "/orders/" + url.PathEscape(clOrdID) + "?" + q.Encode()
	return c.expectOK(ctx, c.writeTimeout(), "cancel order", http.MethodDelete, path, nil)
}

// ClearExecutions DELETE /executions。调用方忽略结果，这里仍如实返回。
func (c *OEMSClient) ClearExecutions(ctx context.Context) error {
	return c.expectOK(ctx, c.readTimeout(), "clear executions", http.MethodDelete, "/executions", nil)
}

func (c *OEMSClient) getJSON(ctx context.Context, op, path string, out interface{}) error {
	resp, err := c.send(ctx, c.readTimeout(), http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", op, err)
	}
	return nil
}

func (c *OEMSClient) expectOK(ctx context.Context, timeout time.Duration, op, method, path string, body interface{}) error {
	resp, err := c.send(ctx, timeout, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	return nil
}

// send 发送请求。返回的 Body 在超时 context 取消前已完整缓冲。
func (c *OEMSClient) send(ctx context.Context, timeout time.Duration, method, path string, body interface{}) (*http.Response, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp, nil
}

func (c *OEMSClient) readTimeout() time.Duration {
	if c.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return c.ReadTimeout
}

func (c *OEMSClient) writeTimeout() time.Duration {
	if c.WriteTimeout <= 0 {
		return DefaultWriteTimeout
	}
	return c.WriteTimeout
}

// NewDefaultHTTPClient 提供一个带兜底超时的 http.Client；单次调用的超时由 context 控制。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
