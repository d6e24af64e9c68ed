package tilt

// Weights combines the five sub-scores into the overall score
type Weights struct {
	TimeOfDay float64
	Currency  float64
	Device    float64
	PnL       float64
	Modality  float64
}

// Sum returns the total of all weights
func (w Weights) Sum() float64 {
	return w.TimeOfDay + w.Currency + w.Device + w.PnL + w.Modality
}

// AlertThresholds are the per-dimension scores above which a risk factor is emitted
type AlertThresholds struct {
	TimeOfDay float64
	Currency  float64
	Device    float64
	PnL       float64
	Modality  float64
}

// Policy holds every fixed weight and threshold used by the scoring engine.
// It is injected at construction so the policy can be audited and tested
// separately from the aggregation logic.
type Policy struct {
	// Ingestion
	VelocityWindowMs int64
	PnLHistoryCap    int

	// Modality classification
	ModalityMinEvents int
	ModalityWindow    int
	AggressiveRatio   float64
	ConservativeRatio float64
	ChasingRatio      float64
	ChasingLossStreak int
	StrategicCVMin    float64
	StrategicCVMax    float64

	// Time of day
	TimeOfDayRisk        map[TimeBucket]float64
	TimeOfDayMinSamples  int
	TimeOfDayLowWinRate  float64
	TimeOfDayWinRateBump float64
	TimeOfDayNetLossBump float64

	// Currency
	CurrencyNoData   float64
	CurrencyMixed    float64
	CurrencyVolatile float64
	CurrencyStable   float64
	VolatileCurrency map[string]bool

	// Device
	DeviceNoData        float64
	DeviceRisk          map[Device]float64
	MobileVelocityLimit float64
	MobileVelocityBump  float64

	// PnL variation
	PnLMinPoints     int
	PnLNoData        float64
	PnLExtremeSwing  float64
	PnLExtremeScore  float64
	PnLLossMagnitude float64
	PnLLossScore     float64
	PnLModerateSwing float64
	PnLModerateScore float64
	PnLStableScore   float64

	// Modality
	ModalityNoData float64
	ModalityRisk   map[Modality]float64

	Weights    Weights
	Thresholds AlertThresholds

	// Recommendation tiers (strictly greater than)
	CriticalScore          float64
	HighScore              float64
	MediumScore            float64
	ScheduleChangeSeverity float64
}

// DefaultPolicy returns the fixed production policy
func DefaultPolicy() Policy {
	return Policy{
		VelocityWindowMs: 60_000,
		PnLHistoryCap:    100,

		ModalityMinEvents: 5,
		ModalityWindow:    10,
		AggressiveRatio:   1.5,
		ConservativeRatio: 0.8,
		ChasingRatio:      1.3,
		ChasingLossStreak: 3,
		StrategicCVMin:    0.3,
		StrategicCVMax:    0.7,

		TimeOfDayRisk: map[TimeBucket]float64{
			BucketLateNight:    0.8,
			BucketEarlyMorning: 0.6,
			BucketWorkHours:    0.3,
			BucketEvening:      0.5,
		},
		TimeOfDayMinSamples:  5,
		TimeOfDayLowWinRate:  0.3,
		TimeOfDayWinRateBump: 0.15,
		TimeOfDayNetLossBump: 0.10,

		CurrencyNoData:   0.3,
		CurrencyMixed:    0.6,
		CurrencyVolatile: 0.7,
		CurrencyStable:   0.4,
		VolatileCurrency: map[string]bool{
			"BTC":  true,
			"ETH":  true,
			"LTC":  true,
			"DOGE": true,
			"SOL":  true,
			"XRP":  true,
			"TRX":  true,
			"BNB":  true,
		},

		DeviceNoData: 0.3,
		DeviceRisk:   map[Device]float64{
			DeviceMobile:  0.7,
			DeviceDesktop: 0.4,
			DeviceTablet:  0.5,
		},
		MobileVelocityLimit: 5,
		MobileVelocityBump:  0.15,

		PnLMinPoints:     5,
		PnLNoData:        0.2,
		PnLExtremeSwing:  50,
		PnLExtremeScore:  0.8,
		PnLLossMagnitude: 30,
		PnLLossScore:     0.7,
		PnLModerateSwing: 20,
		PnLModerateScore: 0.5,
		PnLStableScore:   0.3,

		ModalityNoData: 0.3,
		ModalityRisk: map[Modality]float64{
			ModalityAggressive:   0.8,
			ModalityConservative: 0.2,
			ModalityChasing:      0.9,
			ModalityStrategic:    0.3,
		},

		Weights: Weights{
			TimeOfDay: 0.25,
			Currency:  0.15,
			Device:    0.15,
			PnL:       0.25,
			Modality:  0.20,
		},
		Thresholds: AlertThresholds{
			TimeOfDay: 0.6,
			Currency:  0.5,
			Device:    0.6,
			PnL:       0.5,
			Modality:  0.6,
		},

		CriticalScore:          0.8,
		HighScore:              0.6,
		MediumScore:            0.4,
		ScheduleChangeSeverity: 0.7,
	}
}

// Clone returns a deep copy; the engine never shares its tables with callers
func (p Policy) Clone() Policy {
	out := p
	out.TimeOfDayRisk = make(map[TimeBucket]float64, len(p.TimeOfDayRisk))
	for k, v := range p.TimeOfDayRisk {
		out.TimeOfDayRisk[k] = v
	}
	out.VolatileCurrency = make(map[string]bool, len(p.VolatileCurrency))
	for k, v := range p.VolatileCurrency {
		out.VolatileCurrency[k] = v
	}
	out.DeviceRisk = make(map[Device]float64, len(p.DeviceRisk))
	for k, v := range p.DeviceRisk {
		out.DeviceRisk[k] = v
	}
	out.ModalityRisk = make(map[Modality]float64, len(p.ModalityRisk))
	for k, v := range p.ModalityRisk {
		out.ModalityRisk[k] = v
	}
	return out
}
