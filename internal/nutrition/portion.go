package nutrition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Portion is a presentation-time percentage applied to a stored result.
type Portion int

const (
	MinPortion     Portion = 25
	MaxPortion     Portion = 200
	PortionStep    Portion = 5
	DefaultPortion Portion = 100
)

// Validate checks the range and the 5 percent grid.
func (p Portion) Validate() error {
	if p < MinPortion || p > MaxPortion {
		return fmt.Errorf("portion %d%% out of range %d-%d%%", p, MinPortion, MaxPortion)
	}
	if p%PortionStep != 0 {
		return fmt.Errorf("portion %d%% is not a multiple of %d", p, PortionStep)
	}
	return nil
}

// Add moves the portion by delta, clamped to the allowed range.
func (p Portion) Add(delta int) Portion {
	n := p + Portion(delta)
	if n < MinPortion {
		return MinPortion
	}
	if n > MaxPortion {
		return MaxPortion
	}
	return n
}

// ParsePortion accepts "125" or "125%".
func ParsePortion(s string) (Portion, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid portion %q: %w", s, err)
	}
	p := Portion(n)
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return p, nil
}

// ScaledView is a result rescaled for display. It is a value and shares
// nothing with the stored result.
type ScaledView struct {
	Portion  Portion
	Calories int
	Protein  float64
	Carbs    float64
	Fat      float64
	Fiber    float64
	Sugar    float64
}

// Scale rescales the numeric fields of r by p percent.
func Scale(r *Result, p Portion) (ScaledView, error) {
	if r == nil {
		return ScaledView{}, fmt.Errorf("nothing to scale")
	}
	if err := p.Validate(); err != nil {
		return ScaledView{}, err
	}
	factor := decimal.NewFromInt(int64(p)).Div(decimal.NewFromInt(100))
	macro := func(v float64) float64 {
		f, _ := decimal.NewFromFloat(v).Mul(factor).Round(1).Float64()
		return f
	}
	return ScaledView{
		Portion:  p,
		Calories: int(decimal.NewFromInt(int64(r.Calories)).Mul(factor).Round(0).IntPart()),
		Protein:  macro(r.Protein),
		Carbs:    macro(r.Carbs),
		Fat:      macro(r.Fat),
		Fiber:    macro(r.Fiber),
		Sugar:    macro(r.Sugar),
	}, nil
}
