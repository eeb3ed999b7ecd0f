package strategy

import (
	"math"
	"time"

	"github.com/kjannette/trahn-swarm/internal/models"
)

// HistoryLen is how many 5-minute prices a strategy sees.
const HistoryLen = 12

// NeverTraded is reported as minutes-since-last-trade before an agent's first trade.
const NeverTraded = 999.0

// SensorInput is everything needed to describe one agent/asset pair.
type SensorInput struct {
	Snapshot      models.PriceSnapshot
	Position      models.Position
	HasPosition   bool
	NativeBalance float64
	LastTrade     time.Time
	TotalTrades   int
	Now           time.Time
}

func BuildSensors(in SensorInput) models.Sensors {
	s := models.Sensors{
		Asset:                 in.Snapshot.Asset,
		Price:                 in.Snapshot.PriceUSD,
		Change5m:              in.Snapshot.Change5m,
		Change1h:              in.Snapshot.Change1h,
		Trend:                 in.Snapshot.Trend,
		NativeBalance:         in.NativeBalance,
		TotalTrades:           in.TotalTrades,
		MinutesSinceLastTrade: NeverTraded,
	}
	hist := in.Snapshot.History
	if len(hist) > HistoryLen {
		hist = hist[len(hist)-HistoryLen:]
	}
	s.PriceHistory = append([]float64(nil), hist...)
	s.Volatility = Volatility(s.PriceHistory)

	if in.HasPosition && in.Position.Tokens > 0 {
		s.HasPosition = true
		s.Tokens = in.Position.Tokens
		s.AvgPrice = in.Position.AvgPrice
		s.UnrealizedPnLPct = in.Position.PnLPct(s.Price) * 100
	}
	if !in.LastTrade.IsZero() {
		now := in.Now
		if now.IsZero() {
			now = time.Now()
		}
		s.MinutesSinceLastTrade = now.Sub(in.LastTrade).Minutes()
	}
	return s
}

// Volatility is the sample standard deviation over the mean. It needs at
// least three prices.
func Volatility(prices []float64) float64 {
	if len(prices) < 3 {
		return 0
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, p := range prices {
		sq += (p - mean) * (p - mean)
	}
	return math.Sqrt(sq/float64(len(prices)-1)) / mean
}
