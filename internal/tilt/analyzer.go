package tilt

import (
	"fmt"
	"math"
	"strings"
)

// Risk factor names, in emission order
const (
	FactorTimeOfDay = "time_of_day"
	FactorCurrency  = "currency"
	FactorDevice    = "device"
	FactorPnL       = "pnl_variation"
	FactorModality  = "modality"
)

// Level is a coarse label for the overall score
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels from low (0) to critical (3)
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	}
	return 0
}

// RiskFactor is a sub-score that crossed its alert threshold
type RiskFactor struct {
	Name     string  `json:"name"`
	Severity float64 `json:"severity"`
	Message  string  `json:"message"`
}

type TimeOfDayAnalysis struct {
	Score    float64    `json:"score"`
	Bucket   TimeBucket `json:"bucket"`
	BaseRisk float64    `json:"baseRisk"`
	Samples  int        `json:"samples"`
	WinRate  float64    `json:"winRate"`
	NetPnL   float64    `json:"netPnL"`
	Message  string     `json:"message"`
}

type CurrencyAnalysis struct {
	Score      float64  `json:"score"`
	Currencies []string `json:"currencies"`
	Mixed      bool     `json:"mixed"`
	Volatile   bool     `json:"volatile"`
	Message    string   `json:"message"`
}

type DeviceAnalysis struct {
	Score          float64            `json:"score"`
	Shares         map[Device]float64 `json:"shares"`
	Primary        Device             `json:"primary,omitempty"`
	MobileVelocity float64            `json:"mobileVelocity"`
	Message        string             `json:"message"`
}

type PnLAnalysis struct {
	Score        float64 `json:"score"`
	Points       int     `json:"points"`
	SwingPercent float64 `json:"swingPercent"`
	Current      float64 `json:"current"`
	Message      string  `json:"message"`
}

type ModalityAnalysis struct {
	Score    float64       `json:"score"`
	Tally    ModalityTally `json:"tally"`
	Dominant Modality      `json:"dominant,omitempty"`
	Message  string        `json:"message"`
}

// RiskAnalysis is the pure output of one analysis pass
type RiskAnalysis struct {
	OverallScore    float64           `json:"overallScore"`
	Level           Level             `json:"level"`
	Factors         []RiskFactor      `json:"factors"`
	Recommendations []Recommendation  `json:"recommendations"`
	TimeOfDay       TimeOfDayAnalysis `json:"timeOfDay"`
	Currency        CurrencyAnalysis  `json:"currency"`
	Device          DeviceAnalysis    `json:"device"`
	PnL             PnLAnalysis       `json:"pnl"`
	Modality        ModalityAnalysis  `json:"modality"`
}

// Analyzer computes risk analyses under a fixed policy
type Analyzer struct {
	policy Policy
}

// NewAnalyzer creates an analyzer for the given policy
func NewAnalyzer(p Policy) Analyzer {
	return Analyzer{policy: p}
}

// Analyze scores a session snapshot. current is the wall-clock bucket at
// analysis time. It never fails; missing data degrades to default scores.
func (a Analyzer) Analyze(s Session, current TimeBucket) RiskAnalysis {
	p := a.policy
	out := RiskAnalysis{
		TimeOfDay: a.timeOfDay(s, current),
		Currency:  a.currency(s),
		Device:    a.device(s),
		PnL:       a.pnl(s),
		Modality:  a.modality(s),
	}

	w := p.Weights
	score := out.TimeOfDay.Score*w.TimeOfDay +
		out.Currency.Score*w.Currency +
		out.Device.Score*w.Device +
		out.PnL.Score*w.PnL +
		out.Modality.Score*w.Modality
	out.OverallScore = clamp01(score)
	out.Level = a.level(out.OverallScore)

	t := p.Thresholds
	out.Factors = []RiskFactor{}
	if out.TimeOfDay.Score > t.TimeOfDay {
		out.Factors = append(out.Factors, RiskFactor{Name: FactorTimeOfDay, Severity: out.TimeOfDay.Score, Message: out.TimeOfDay.Message})
	}
	if out.Currency.Score > t.Currency {
		out.Factors = append(out.Factors, RiskFactor{Name: FactorCurrency, Severity: out.Currency.Score, Message: out.Currency.Message})
	}
	if out.Device.Score > t.Device {
		out.Factors = append(out.Factors, RiskFactor{Name: FactorDevice, Severity: out.Device.Score, Message: out.Device.Message})
	}
	if out.PnL.Score > t.PnL {
		out.Factors = append(out.Factors, RiskFactor{Name: FactorPnL, Severity: out.PnL.Score, Message: out.PnL.Message})
	}
	if out.Modality.Score > t.Modality {
		out.Factors = append(out.Factors, RiskFactor{Name: FactorModality, Severity: out.Modality.Score, Message: out.Modality.Message})
	}

	out.Recommendations = Recommend(out, p)
	return out
}

func (a Analyzer) level(score float64) Level {
	switch {
	case score > a.policy.CriticalScore:
		return LevelCritical
	case score > a.policy.HighScore:
		return LevelHigh
	case score > a.policy.MediumScore:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (a Analyzer) timeOfDay(s Session, current TimeBucket) TimeOfDayAnalysis {
	p := a.policy
	stats := s.TimeOfDay[current]
	base := p.TimeOfDayRisk[current]
	res := TimeOfDayAnalysis{
		Bucket:   current,
		BaseRisk: base,
		Samples:  stats.Count,
		WinRate:  stats.WinRate(),
		NetPnL:   stats.NetPnL,
	}

	score := base
	note := ""
	if stats.Count > p.TimeOfDayMinSamples {
		if res.WinRate < p.TimeOfDayLowWinRate {
			score += p.TimeOfDayWinRateBump
			note = fmt.Sprintf(", %.0f%% win rate over %d wagers in this window", res.WinRate*100, stats.Count)
		} else if stats.NetPnL < 0 {
			score += p.TimeOfDayNetLossBump
			note = fmt.Sprintf(", net %.2f in this window historically", stats.NetPnL)
		}
	}
	res.Score = clamp01(score)
	res.Message = fmt.Sprintf("Playing during %s hours (base risk %.2f)%s", current, base, note)
	return res
}

func (a Analyzer) currency(s Session) CurrencyAnalysis {
	p := a.policy
	codes := s.Currencies()
	res := CurrencyAnalysis{Currencies: codes}

	switch {
	case len(codes) == 0:
		res.Score = p.CurrencyNoData
		res.Message = "No currency data yet"
	case len(codes) > 1:
		res.Mixed = true
		res.Score = p.CurrencyMixed
		res.Message = fmt.Sprintf("Switching between %d currencies (%s)", len(codes), strings.Join(codes, ", "))
	case p.VolatileCurrency[codes[0]]:
		res.Volatile = true
		res.Score = p.CurrencyVolatile
		res.Message = fmt.Sprintf("Wagering in volatile currency %s", codes[0])
	default:
		res.Score = p.CurrencyStable
		res.Message = fmt.Sprintf("Wagering in stable currency %s", codes[0])
	}
	return res
}

func (a Analyzer) device(s Session) DeviceAnalysis {
	p := a.policy
	res := DeviceAnalysis{Shares: make(map[Device]float64, len(Devices))}

	total := 0
	for _, st := range s.Device {
		total += st.Count
	}

	score := 0.0
	best := 0
	for _, d := range Devices {
		st := s.Device[d]
		share := ratio(float64(st.Count), float64(total))
		res.Shares[d] = share
		score += share * p.DeviceRisk[d]
		if st.Count > best {
			best = st.Count
			res.Primary = d
		}
	}
	res.MobileVelocity = s.Device[DeviceMobile].AvgVelocity

	if total == 0 {
		res.Score = p.DeviceNoData
		res.Message = "No device data yet"
		return res
	}

	msg := fmt.Sprintf("Primary device %s (%.0f%% of wagers)", res.Primary, res.Shares[res.Primary]*100)
	if res.MobileVelocity > p.MobileVelocityLimit {
		score += p.MobileVelocityBump
		msg += fmt.Sprintf(", rapid mobile betting at %.1f wagers/min", res.MobileVelocity)
	}
	res.Score = clamp01(score)
	res.Message = msg
	return res
}

func (a Analyzer) pnl(s Session) PnLAnalysis {
	p := a.policy
	res := PnLAnalysis{Points: len(s.PnLHistory), Current: s.CumulativePnL}

	if len(s.PnLHistory) < p.PnLMinPoints {
		res.Score = p.PnLNoData
		res.Message = fmt.Sprintf("Not enough results yet (%d of %d)", len(s.PnLHistory), p.PnLMinPoints)
		return res
	}

	hi := math.Inf(-1)
	lo := math.Inf(1)
	for _, pt := range s.PnLHistory {
		hi = math.Max(hi, pt.Cumulative)
		lo = math.Min(lo, pt.Cumulative)
	}
	res.SwingPercent = ratio(hi-lo, math.Abs(hi)) * 100

	switch {
	case res.SwingPercent > p.PnLExtremeSwing:
		res.Score = p.PnLExtremeScore
		res.Message = fmt.Sprintf("Extreme PnL swing of %.1f%%", res.SwingPercent)
	case res.Current < 0 && math.Abs(res.Current) > p.PnLLossMagnitude:
		res.Score = p.PnLLossScore
		res.Message = fmt.Sprintf("Session is down %.2f", math.Abs(res.Current))
	case res.SwingPercent > p.PnLModerateSwing:
		res.Score = p.PnLModerateScore
		res.Message = fmt.Sprintf("Moderate PnL swing of %.1f%%", res.SwingPercent)
	default:
		res.Score = p.PnLStableScore
		res.Message = "PnL trajectory is stable"
	}
	return res
}

func (a Analyzer) modality(s Session) ModalityAnalysis {
	p := a.policy
	t := s.Modality
	res := ModalityAnalysis{Tally: t}

	total := t.Total()
	if total == 0 {
		res.Score = p.ModalityNoData
		res.Message = "No wager pattern classified yet"
		return res
	}

	score := 0.0
	best := 0
	for _, m := range Modalities {
		n := t.Get(m)
		score += ratio(float64(n), float64(total)) * p.ModalityRisk[m]
		if n > best {
			best = n
			res.Dominant = m
		}
	}
	res.Score = clamp01(score)

	msg := fmt.Sprintf("Dominant wager pattern %s", res.Dominant)
	if t.Chasing > 0 {
		msg += fmt.Sprintf(", loss chasing in %d wagers", t.Chasing)
	}
	res.Message = msg
	return res
}
