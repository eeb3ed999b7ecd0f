package strategy

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kjannette/trahn-swarm/internal/models"
)

// Condition compares one sensor against a value. Text is used for string
// sensors (trend); Value for everything else.
type Condition struct {
	Field string  `yaml:"field"`
	Op    string  `yaml:"op"`
	Value float64 `yaml:"value"`
	Text  string  `yaml:"text,omitempty"`
}

// Rule fires when all of All match and, if Any is set, at least one of Any.
type Rule struct {
	Name     string      `yaml:"name"`
	All      []Condition `yaml:"all"`
	Any      []Condition `yaml:"any,omitempty"`
	Action   string      `yaml:"action"`
	Fraction float64     `yaml:"fraction"`
	// Reason may reference sensors as {field}, e.g. "dip buy 5m={change_5m}%".
	Reason string `yaml:"reason"`
}

// Rules is an ordered rule list; the first matching rule wins.
type Rules struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

var ops = map[string]func(a, b float64) bool{
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
	"==": func(a, b float64) bool { return a == b },
	"!=": func(a, b float64) bool { return a != b },
}

// ParseRules decodes and validates a YAML rules document.
func ParseRules(raw []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("strategy: parse rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadRules reads a rules file.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy: read %s: %w", path, err)
	}
	return ParseRules(raw)
}

// DefaultRules is the built-in strategy used when no rules file is configured.
func DefaultRules() *Rules {
	r, err := ParseRules([]byte(defaultRulesYAML))
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rules) Validate() error {
	var errs []error
	if len(r.Rules) == 0 {
		errs = append(errs, errors.New("no rules"))
	}
	for i, rule := range r.Rules {
		switch strings.ToLower(rule.Action) {
		case "buy", "sell", "hold":
		default:
			errs = append(errs, fmt.Errorf("rule %d (%s): unknown action %q", i, rule.Name, rule.Action))
		}
		if rule.Fraction < 0 || rule.Fraction > 1 {
			errs = append(errs, fmt.Errorf("rule %d (%s): fraction %.2f outside [0,1]", i, rule.Name, rule.Fraction))
		}
		for _, c := range append(append([]Condition(nil), rule.All...), rule.Any...) {
			if err := c.validate(); err != nil {
				errs = append(errs, fmt.Errorf("rule %d (%s): %w", i, rule.Name, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("strategy: invalid rules: %w", errors.Join(errs...))
	}
	return nil
}

func (c Condition) validate() error {
	if c.Field == "trend" {
		if c.Op != "==" && c.Op != "!=" {
			return fmt.Errorf("trend supports == and != only, got %q", c.Op)
		}
		return nil
	}
	if _, ok := numeric(models.Sensors{}, c.Field); !ok {
		return fmt.Errorf("unknown field %q", c.Field)
	}
	if _, ok := ops[c.Op]; !ok {
		return fmt.Errorf("unknown op %q", c.Op)
	}
	return nil
}

func (c Condition) match(s models.Sensors) bool {
	if c.Field == "trend" {
		eq := strings.EqualFold(s.Trend, c.Text)
		if c.Op == "!=" {
			return !eq
		}
		return eq
	}
	v, ok := numeric(s, c.Field)
	if !ok {
		return false
	}
	return ops[c.Op](v, c.Value)
}

// Decide returns the first matching rule's decision, or hold.
func (r *Rules) Decide(s models.Sensors) models.Decision {
	for _, rule := range r.Rules {
		if !rule.matches(s) {
			continue
		}
		return models.Decision{
			Action:   models.Direction(strings.ToLower(rule.Action)),
			Fraction: rule.Fraction,
			Reason:   expand(rule.Reason, s),
		}.Normalize()
	}
	return models.HoldDecision("no signal")
}

func (rule Rule) matches(s models.Sensors) bool {
	for _, c := range rule.All {
		if !c.match(s) {
			return false
		}
	}
	if len(rule.Any) == 0 {
		return true
	}
	for _, c := range rule.Any {
		if c.match(s) {
			return true
		}
	}
	return false
}

// numeric resolves a sensor name. gain_ratio is derived (price / avg price).
func numeric(s models.Sensors, field string) (float64, bool) {
	switch field {
	case "price", "price_usd":
		return s.Price, true
	case "change_5m":
		return s.Change5m, true
	case "change_1h":
		return s.Change1h, true
	case "has_position":
		if s.HasPosition {
			return 1, true
		}
		return 0, true
	case "tokens":
		return float64(s.Tokens), true
	case "avg_price":
		return s.AvgPrice, true
	case "unrealized_pnl_pct":
		return s.UnrealizedPnLPct, true
	case "gain_ratio":
		if s.AvgPrice <= 0 {
			return 0, true
		}
		return s.Price / s.AvgPrice, true
	case "volatility":
		return s.Volatility, true
	case "sol_balance", "native_balance":
		return s.NativeBalance, true
	case "minutes_since_last_trade":
		return s.MinutesSinceLastTrade, true
	case "total_trades":
		return float64(s.TotalTrades), true
	}
	return 0, false
}

func expand(reason string, s models.Sensors) string {
	if !strings.Contains(reason, "{") {
		return reason
	}
	var b strings.Builder
	for {
		i := strings.IndexByte(reason, '{')
		if i < 0 {
			b.WriteString(reason)
			break
		}
		j := strings.IndexByte(reason[i:], '}')
		if j < 0 {
			b.WriteString(reason)
			break
		}
		b.WriteString(reason[:i])
		field := reason[i+1 : i+j]
		if field == "trend" {
			b.WriteString(s.Trend)
		} else if v, ok := numeric(s, field); ok {
			b.WriteString(strconv.FormatFloat(v, 'f', 1, 64))
		} else {
			b.WriteString(reason[i : i+j+1])
		}
		reason = reason[i+j+1:]
	}
	return b.String()
}

const defaultRulesYAML = `
name: default
rules:
  - name: take_profit_half
    all:
      - {field: has_position, op: "==", value: 1}
      - {field: avg_price, op: ">", value: 0}
      - {field: gain_ratio, op: ">=", value: 2.0}
    action: sell
    fraction: 0.5
    reason: "TP@{gain_ratio}x"
  - name: dip_buy
    all:
      - {field: change_5m, op: "<=", value: -3.0}
    action: buy
    fraction: 0.3
    reason: "dip buy 5m={change_5m}%"
  - name: dip_buy_downtrend
    all:
      - {field: change_5m, op: "<=", value: -1.5}
      - {field: trend, op: "==", text: down}
    action: buy
    fraction: 0.3
    reason: "dip buy 5m={change_5m}%"
  - name: rip_sell
    all:
      - {field: has_position, op: "==", value: 1}
      - {field: tokens, op: ">", value: 0}
      - {field: change_5m, op: ">=", value: 5.0}
    action: sell
    fraction: 0.5
    reason: "rip sell 5m={change_5m}%"
  - name: rip_sell_uptrend
    all:
      - {field: has_position, op: "==", value: 1}
      - {field: tokens, op: ">", value: 0}
      - {field: change_5m, op: ">=", value: 3.0}
      - {field: trend, op: "==", text: up}
    action: sell
    fraction: 0.5
    reason: "rip sell 5m={change_5m}%"
  - name: big_hourly_dip
    all:
      - {field: change_1h, op: "<=", value: -10.0}
      - {field: has_position, op: "==", value: 0}
    action: buy
    fraction: 0.4
    reason: "big dip 1h={change_1h}%"
  - name: nibble_flat
    all:
      - {field: change_5m, op: "<=", value: 0}
      - {field: has_position, op: "==", value: 0}
    action: buy
    fraction: 0.2
    reason: "nibble flat market"
`
