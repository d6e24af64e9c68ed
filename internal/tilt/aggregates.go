package tilt

import (
	"math"
	"time"
)

// OutcomeStats counts wagers and results for one aggregate bucket
type OutcomeStats struct {
	Count  int     `json:"count"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	Amount float64 `json:"amount"`
	NetPnL float64 `json:"netPnL"`
}

func (s *OutcomeStats) add(e WagerEvent) {
	s.Count++
	s.Amount += e.Amount
	if e.Outcome == OutcomeWin {
		s.Wins++
	} else {
		s.Losses++
	}
	s.NetPnL += e.SignedPnL()
}

// WinRate returns wins/count, or 0 with no samples
func (s OutcomeStats) WinRate() float64 {
	return ratio(float64(s.Wins), float64(s.Count))
}

// TimeOfDayAggregate tracks results per local time bucket
type TimeOfDayAggregate map[TimeBucket]*OutcomeStats

func newTimeOfDayAggregate() TimeOfDayAggregate {
	agg := make(TimeOfDayAggregate, len(TimeBuckets))
	for _, b := range TimeBuckets {
		agg[b] = &OutcomeStats{}
	}
	return agg
}

func (a TimeOfDayAggregate) update(e WagerEvent) {
	a[e.Bucket].add(e)
}

// CurrencyAggregate tracks results per currency code
type CurrencyAggregate map[string]*OutcomeStats

func (a CurrencyAggregate) update(e WagerEvent) {
	stats, ok := a[e.Currency]
	if !ok {
		stats = &OutcomeStats{}
		a[e.Currency] = stats
	}
	stats.add(e)
}

// DeviceStats tracks results and wager velocity for one device category
type DeviceStats struct {
	Count       int     `json:"count"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Amount      float64 `json:"amount"`
	AvgVelocity float64 `json:"avgVelocity"`
}

// DeviceAggregate tracks results per device category
type DeviceAggregate map[Device]*DeviceStats

func newDeviceAggregate() DeviceAggregate {
	agg := make(DeviceAggregate, len(Devices))
	for _, d := range Devices {
		agg[d] = &DeviceStats{}
	}
	return agg
}

func (a DeviceAggregate) update(e WagerEvent) {
	s := a[e.Device]
	s.Count++
	s.Amount += e.Amount
	if e.Outcome == OutcomeWin {
		s.Wins++
	} else {
		s.Losses++
	}
	// running mean
	s.AvgVelocity += (float64(e.WagerVelocity) - s.AvgVelocity) / float64(s.Count)
}

func (a DeviceAggregate) total() int {
	n := 0
	for _, s := range a {
		n += s.Count
	}
	return n
}

// PnLPoint is one entry in the bounded PnL trajectory
type PnLPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	PnL        float64   `json:"pnl"`
	Cumulative float64   `json:"cumulative"`
}

// PnLHistory is a FIFO of PnL points bounded by a fixed capacity
type PnLHistory struct {
	capacity   int
	points     []PnLPoint
	cumulative float64
}

func newPnLHistory(capacity int) *PnLHistory {
	return &PnLHistory{capacity: capacity, points: make([]PnLPoint, 0, capacity)}
}

func (h *PnLHistory) update(e WagerEvent) {
	h.cumulative += e.SignedPnL()
	if len(h.points) == h.capacity {
		copy(h.points, h.points[1:])
		h.points = h.points[:len(h.points)-1]
	}
	h.points = append(h.points, PnLPoint{
		Timestamp:  e.Timestamp,
		PnL:        e.SignedPnL(),
		Cumulative: h.cumulative,
	})
}

// Len returns the number of retained points
func (h *PnLHistory) Len() int { return len(h.points) }

// Points returns a copy of the retained points, oldest first
func (h *PnLHistory) Points() []PnLPoint {
	out := make([]PnLPoint, len(h.points))
	copy(out, h.points)
	return out
}

// Current returns the latest cumulative PnL
func (h *PnLHistory) Current() float64 { return h.cumulative }

// Modality is a behavioral label attached to a single wager
type Modality string

const (
	ModalityAggressive   Modality = "aggressive"
	ModalityConservative Modality = "conservative"
	ModalityChasing      Modality = "chasing"
	ModalityStrategic    Modality = "strategic"
)

// Modalities lists the tally labels in reporting order
var Modalities = []Modality{ModalityAggressive, ModalityConservative, ModalityChasing, ModalityStrategic}

// ModalityTally holds independent counters; one wager may bump several
type ModalityTally struct {
	Aggressive   int `json:"aggressive"`
	Conservative int `json:"conservative"`
	Chasing      int `json:"chasing"`
	Strategic    int `json:"strategic"`
}

// Get returns the counter for a modality
func (t ModalityTally) Get(m Modality) int {
	switch m {
	case ModalityAggressive:
		return t.Aggressive
	case ModalityConservative:
		return t.Conservative
	case ModalityChasing:
		return t.Chasing
	case ModalityStrategic:
		return t.Strategic
	}
	return 0
}

// Total returns the sum of all counters
func (t ModalityTally) Total() int {
	return t.Aggressive + t.Conservative + t.Chasing + t.Strategic
}

func (t *ModalityTally) apply(labels []Modality) {
	for _, m := range labels {
		switch m {
		case ModalityAggressive:
			t.Aggressive++
		case ModalityConservative:
			t.Conservative++
		case ModalityChasing:
			t.Chasing++
		case ModalityStrategic:
			t.Strategic++
		}
	}
}

// classifyModality labels the newest event in history. history must already
// contain the event being classified as its last element.
func classifyModality(history []WagerEvent, p Policy) []Modality {
	if len(history) < p.ModalityMinEvents {
		return nil
	}

	window := history
	if len(window) > p.ModalityWindow {
		window = window[len(window)-p.ModalityWindow:]
	}
	current := history[len(history)-1]

	amounts := make([]float64, len(window))
	for i, e := range window {
		amounts[i] = e.Amount
	}
	avg := mean(amounts)

	var labels []Modality
	if current.Amount > p.AggressiveRatio*avg {
		labels = append(labels, ModalityAggressive)
	}
	if current.Amount < p.ConservativeRatio*avg {
		labels = append(labels, ModalityConservative)
	}
	if precededByLosses(history, p.ChasingLossStreak) && current.Amount > p.ChasingRatio*avg {
		labels = append(labels, ModalityChasing)
	}
	if cv := coefficientOfVariation(amounts); cv > p.StrategicCVMin && cv < p.StrategicCVMax {
		labels = append(labels, ModalityStrategic)
	}
	return labels
}

// precededByLosses reports whether the n events before the newest were all losses
func precededByLosses(history []WagerEvent, n int) bool {
	if len(history) < n+1 {
		return false
	}
	for _, e := range history[len(history)-1-n : len(history)-1] {
		if e.Outcome != OutcomeLoss {
			return false
		}
	}
	return true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// coefficientOfVariation uses the population standard deviation
func coefficientOfVariation(values []float64) float64 {
	avg := mean(values)
	if avg == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / avg
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
