package tilt

import "strings"

// Priority orders recommendations for display
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
	PriorityInfo     Priority = "INFO"
)

// Recommendation actions
const (
	ActionStopSession    = "stop_session"
	ActionTakeBreak      = "take_break"
	ActionReduceBetSize  = "reduce_bet_size"
	ActionChangeSchedule = "change_schedule"
	ActionStopChasing    = "stop_chasing"
	ActionSwitchDevice   = "switch_device"
	ActionEarnInstead    = "earn_instead"
)

// Recommendation is one suggested action
type Recommendation struct {
	Priority Priority `json:"priority"`
	Action   string   `json:"action"`
	Message  string   `json:"message"`
}

// Recommend maps an analysis to an ordered action list: the score tier
// first, then per-factor advice in factor order, then one informational
// entry.
func Recommend(a RiskAnalysis, p Policy) []Recommendation {
	var recs []Recommendation

	switch {
	case a.OverallScore > p.CriticalScore:
		recs = append(recs, Recommendation{
			Priority: PriorityCritical,
			Action:   ActionStopSession,
			Message:  "Tilt risk is critical. Stop this session now and step away.",
		})
	case a.OverallScore > p.HighScore:
		recs = append(recs, Recommendation{
			Priority: PriorityHigh,
			Action:   ActionTakeBreak,
			Message:  "Tilt risk is high. Take a break of at least 15 minutes before the next wager.",
		})
	case a.OverallScore > p.MediumScore:
		recs = append(recs, Recommendation{
			Priority: PriorityMedium,
			Action:   ActionReduceBetSize,
			Message:  "Tilt risk is rising. Reduce your bet size.",
		})
	}

	for _, f := range a.Factors {
		msg := strings.ToLower(f.Message)
		switch f.Name {
		case FactorTimeOfDay:
			if f.Severity > p.ScheduleChangeSeverity {
				recs = append(recs, Recommendation{
					Priority: PriorityMedium,
					Action:   ActionChangeSchedule,
					Message:  "You tend to play at risky hours. Try moving sessions to a time you are rested.",
				})
			}
		case FactorModality:
			if strings.Contains(msg, string(ModalityChasing)) {
				recs = append(recs, Recommendation{
					Priority: PriorityCritical,
					Action:   ActionStopChasing,
					Message:  "You are raising stakes after losses. Stop chasing; losses are not recovered by bigger bets.",
				})
			}
		case FactorDevice:
			if strings.Contains(msg, string(DeviceMobile)) {
				recs = append(recs, Recommendation{
					Priority: PriorityLow,
					Action:   ActionSwitchDevice,
					Message:  "Mobile play makes quick impulsive bets easy. Consider switching to a desktop.",
				})
			}
		}
	}

	recs = append(recs, Recommendation{
		Priority: PriorityInfo,
		Action:   ActionEarnInstead,
		Message:  "Redirect this energy into an earning opportunity instead of another wager.",
	})
	return recs
}
