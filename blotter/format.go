// Package blotter turns raw orders and execution reports into display rows.
package blotter

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"oems-dashboard/order"
)

// FormatTimestamp 截取 ISO 时间中的 HH:MM:SS 部分（偏移 11..19），不做时区换算。
func FormatTimestamp(ts string) string {
	if ts == "" {
		return ""
	}
	if utf8.RuneCountInString(ts) < 19 {
		return ts
	}
	return string([]rune(ts)[11:19])
}

// FormatPrice renders an order price; absent or non-positive prices are market orders.
func FormatPrice(v order.Decimal) string {
	if !v.Valid || !v.Decimal.IsPositive() {
		return "MKT"
	}
	return "$" + v.Decimal.StringFixed(2)
}

// FormatMoney renders an execution price field.
func FormatMoney(v order.Decimal) string {
	if !v.Valid || !v.Decimal.IsPositive() {
		return "-"
	}
	return "$" + v.Decimal.StringFixed(2)
}

// ParseDisplayPrice 从展示文本（"$10.00"）反解价格，用于改单弹窗预填。
// 解析失败时视为无价格，不报错。
func ParseDisplayPrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "MKT" || s == "-" {
		return 0, false
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(s, "$", ""))
	if err != nil {
		return 0, false
	}
	return v.InexactFloat64(), true
}
