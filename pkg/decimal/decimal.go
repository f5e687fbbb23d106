// Package decimal 精度计算工具，基于 apd 十进制
package decimal

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd"
)

// Precision 运算有效位数
const Precision = 34

var (
	// ctx 半进位上舍
	ctx = apd.Context{
		Precision:   Precision,
		Rounding:    apd.RoundHalfUp,
		MaxExponent: apd.MaxExponent,
		MinExponent: apd.MinExponent,
		Traps:       apd.DefaultTraps,
	}
	floorCtx = apd.Context{
		Precision:   Precision,
		Rounding:    apd.RoundFloor,
		MaxExponent: apd.MaxExponent,
		MinExponent: apd.MinExponent,
		Traps:       apd.DefaultTraps,
	}
)

// Zero 返回新的零值
func Zero() *apd.Decimal {
	return apd.New(0, 0)
}

// FromInt 从整数创建
func FromInt(v int64) *apd.Decimal {
	return apd.New(v, 0)
}

// Parse 从字符串创建
func Parse(s string) (*apd.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal")
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("invalid decimal %q: not finite", s)
	}
	return d, nil
}

// MustParse 从字符串创建，panic on error
func MustParse(s string) *apd.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromTicks ticks·10^-scale
func FromTicks(ticks int64, scale int32) *apd.Decimal {
	return apd.New(ticks, -scale)
}

// ToTicks 转为 scale 位小数的整数表示，不在价格网格上时报错
func ToTicks(d *apd.Decimal, scale int32) (int64, error) {
	if d == nil {
		return 0, fmt.Errorf("nil decimal")
	}
	q := new(apd.Decimal)
	cond, err := ctx.Quantize(q, d, -scale)
	if err != nil {
		return 0, fmt.Errorf("quantize %s: %w", d.Text('f'), err)
	}
	if cond.Inexact() {
		return 0, fmt.Errorf("%s has more than %d decimal places", d.Text('f'), scale)
	}
	q.Exponent = 0
	v, err := q.Int64()
	if err != nil {
		return 0, fmt.Errorf("ticks of %s: %w", d.Text('f'), err)
	}
	return v, nil
}

// ParseTicks Parse + ToTicks
func ParseTicks(s string, scale int32) (int64, error) {
	d, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return ToTicks(d, scale)
}

// FormatTicks 以 scale 位小数格式化
func FormatTicks(ticks int64, scale int32) string {
	return FromTicks(ticks, scale).Text('f')
}

// Add x+y
func Add(x, y *apd.Decimal) *apd.Decimal {
	d := new(apd.Decimal)
	must(ctx.Add(d, x, y))
	return d
}

// Sub x-y
func Sub(x, y *apd.Decimal) *apd.Decimal {
	d := new(apd.Decimal)
	must(ctx.Sub(d, x, y))
	return d
}

// Mul x*y
func Mul(x, y *apd.Decimal) *apd.Decimal {
	d := new(apd.Decimal)
	must(ctx.Mul(d, x, y))
	return d
}

// Quo x/y，y 为零时返回错误
func Quo(x, y *apd.Decimal) (*apd.Decimal, error) {
	if y.IsZero() {
		return nil, fmt.Errorf("division by zero")
	}
	d := new(apd.Decimal)
	if _, err := ctx.Quo(d, x, y); err != nil {
		return nil, err
	}
	return d, nil
}

// RoundHalfUp 保留 scale 位小数，半进位上舍
func RoundHalfUp(x *apd.Decimal, scale int32) *apd.Decimal {
	d := new(apd.Decimal)
	must(ctx.Quantize(d, x, -scale))
	return d
}

// FloorInt 向下取整为 int64
func FloorInt(x *apd.Decimal) (int64, error) {
	d := new(apd.Decimal)
	if _, err := floorCtx.Quantize(d, x, 0); err != nil {
		return 0, err
	}
	return d.Int64()
}

// Equal 数值相等
func Equal(x, y *apd.Decimal) bool {
	return x.Cmp(y) == 0
}

// String 定点格式
func String(x *apd.Decimal) string {
	if x == nil {
		return "0"
	}
	return x.Text('f')
}

func must(_ apd.Condition, err error) {
	if err != nil {
		panic(fmt.Sprintf("decimal: %v", err))
	}
}
