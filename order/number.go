package order

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal 可缺省的价格字段。非数值输入在解码时视为缺失，不会让整条记录失败。
type Decimal struct {
	decimal.NullDecimal
}

// Dec builds a present Decimal. NaN and ±Inf have no decimal form and yield an absent value.
func Dec(v float64) Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Decimal{}
	}
	return Decimal{decimal.NewNullDecimal(decimal.NewFromFloat(v))}
}

// Equal compares presence and numeric value, ignoring scale.
func (d Decimal) Equal(o Decimal) bool {
	if d.Valid != o.Valid {
		return false
	}
	return !d.Valid || d.Decimal.Equal(o.Decimal)
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	v, ok := parseNumber(b)
	*d = Decimal{decimal.NullDecimal{Decimal: v, Valid: ok}}
	return nil
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return []byte(d.Decimal.String()), nil
}

// Qty 可缺省的整数数量。
type Qty struct {
	Value int64
	Valid bool
}

// Q builds a present Qty.
func Q(v int64) Qty {
	return Qty{Value: v, Valid: true}
}

// Or returns the quantity or def when absent.
func (q Qty) Or(def int64) int64 {
	if !q.Valid {
		return def
	}
	return q.Value
}

const maxQtyScale = 18

var (
	minQty = decimal.NewFromInt(math.MinInt64)
	maxQty = decimal.NewFromInt(math.MaxInt64)
)

// UnmarshalJSON 非整数或超出 int64 范围的数量视为缺失。
func (q *Qty) UnmarshalJSON(b []byte) error {
	v, ok := parseNumber(b)
	// 指数先设界，避免对 1e999999 之类的输入做巨额换算
	if ok {
		exp := v.Exponent()
		ok = exp >= -maxQtyScale && exp <= maxQtyScale
	}
	if !ok || !v.IsInteger() || v.LessThan(minQty) || v.GreaterThan(maxQty) {
		*q = Qty{}
		return nil
	}
	*q = Qty{Value: v.IntPart(), Valid: true}
	return nil
}

func (q Qty) MarshalJSON() ([]byte, error) {
	if !q.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(q.Value)
}

// Stamp 时间戳原文。后端给的不是字符串时按原样转成文本。
type Stamp string

func (s *Stamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = Stamp(str)
		return nil
	}
	*s = Stamp(b)
	return nil
}

// parseNumber accepts JSON numbers and numeric strings; anything else is absent.
func parseNumber(b []byte) (decimal.Decimal, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return decimal.Zero, false
	}
	raw := string(b)
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return decimal.Zero, false
		}
		raw = strings.TrimSpace(str)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}
