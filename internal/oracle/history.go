package oracle

import (
	"math"
	"sync"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// HistoryPoint records one generated price.
type HistoryPoint struct {
	Price      float64      `json:"price"`
	Timestamp  time.Time    `json:"timestamp"`
	Volatility float64      `json:"volatility"`
	Trend      domain.Trend `json:"trend"`
}

// History is a bounded price history. Once full, the oldest point is evicted
// on every append.
type History struct {
	mu     sync.RWMutex
	points []HistoryPoint
	limit  int
}

// NewHistory creates a History that keeps at most limit points.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, points: make([]HistoryPoint, 0, limit)}
}

// Append adds p and evicts from the front when over the limit. A point
// without a trend is labelled with the trend including itself.
func (h *History) Append(p HistoryPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.points = append(h.points, p)
	if over := len(h.points) - h.limit; over > 0 {
		copy(h.points, h.points[over:])
		h.points = h.points[:h.limit]
	}
	if p.Trend == "" {
		h.points[len(h.points)-1].Trend = trendOf(h.points)
	}
}

// Len returns the number of stored points.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}

// Since returns a copy of all points at or after cutoff.
func (h *History) Since(cutoff time.Time) []HistoryPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	i := 0
	for i < len(h.points) && h.points[i].Timestamp.Before(cutoff) {
		i++
	}
	out := make([]HistoryPoint, len(h.points)-i)
	copy(out, h.points[i:])
	return out
}

// All returns a copy of every stored point, oldest first.
func (h *History) All() []HistoryPoint {
	return h.Since(time.Time{})
}

// Reset drops every point.
func (h *History) Reset() {
	h.mu.Lock()
	h.points = h.points[:0]
	h.mu.Unlock()
}

// Trend compares the mean of the last 10 prices with the mean of the 10
// before them. A change beyond 2% either way is bullish or bearish.
func (h *History) Trend() domain.Trend {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return trendOf(h.points)
}

// Volatility returns the population standard deviation of the last n prices.
func (h *History) Volatility(n int) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pts := h.points
	if n > 0 && len(pts) > n {
		pts = pts[len(pts)-n:]
	}
	if len(pts) < 2 {
		return 0
	}
	mean := meanPrice(pts)
	var variance float64
	for _, p := range pts {
		d := p.Price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

func trendOf(pts []HistoryPoint) domain.Trend {
	if len(pts) < 2*trendWindow {
		return domain.TrendSideways
	}
	recent := meanPrice(pts[len(pts)-trendWindow:])
	previous := meanPrice(pts[len(pts)-2*trendWindow : len(pts)-trendWindow])
	if previous == 0 {
		return domain.TrendSideways
	}
	change := (recent - previous) / previous
	switch {
	case change > trendThreshold:
		return domain.TrendBullish
	case change < -trendThreshold:
		return domain.TrendBearish
	default:
		return domain.TrendSideways
	}
}

func meanPrice(pts []HistoryPoint) float64 {
	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	return sum / float64(len(pts))
}
