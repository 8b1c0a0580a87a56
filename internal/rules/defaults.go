package rules

import "github.com/Karuna-AI/karuna-proactive/internal/models"

// Standard response actions shared by the default rules.
var (
	acknowledgeActions = []models.CheckInAction{
		{ID: "ok", Label: "Got it", Kind: models.ActionKindPositive},
		{ID: "later", Label: "Remind me later", Kind: models.ActionKindNeutral},
	}
	wellbeingActions = []models.CheckInAction{
		{ID: "good", Label: "I'm doing well", Kind: models.ActionKindPositive},
		{ID: "okay", Label: "I'm okay", Kind: models.ActionKindNeutral},
		{ID: "not_great", Label: "Not so good", Kind: models.ActionKindNegative},
	}
	inactivityActions = []models.CheckInAction{
		{ID: "fine", Label: "I'm fine", Kind: models.ActionKindPositive},
		{ID: "need_help", Label: "I need help", Kind: models.ActionKindNegative},
	}
)

// DefaultRules returns the built-in rule set used when no rule file is
// configured. IDs are stable; user preferences reference them by category.
func DefaultRules() *Set {
	return NewSet([]models.ProactiveRule{
		{
			ID:       "morning_greeting",
			Name:     "Morning greeting",
			Type:     models.CheckInTypeMorningGreeting,
			Priority: models.PriorityLow,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeSteps, Field: "count", Operator: models.OperatorGTE, Value: 0},
			},
			CooldownMinutes: 20 * 60,
			MaxPerDay:       1,
			TimeWindow:      &models.TimeWindow{StartHour: 7, EndHour: 10},
			Title:           "Good morning",
			MessageTemplate: "Good morning! Hope you slept well. It's {weather.description} today.",
			Actions:         acknowledgeActions,
		},
		{
			ID:       "medication_due",
			Name:     "Medication reminder",
			Type:     models.CheckInTypeMedicationReminder,
			Priority: models.PriorityHigh,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeMedication, Field: "pendingDoses", Operator: models.OperatorGT, Value: 0},
			},
			CooldownMinutes: 60,
			MaxPerDay:       5,
			Title:           "Medication reminder",
			MessageTemplate: "You have {medication.pendingDoses} medication dose(s) waiting. A good moment to take them?",
			Suggestion:      "Keep a glass of water nearby to make it easier.",
			Actions:         acknowledgeActions,
		},
		{
			ID:       "severe_weather",
			Name:     "Severe weather advisory",
			Type:     models.CheckInTypeWeatherAdvisory,
			Priority: models.PriorityMedium,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeWeather, Field: "severity", Operator: models.OperatorContains, Value: "severe"},
			},
			CooldownMinutes: 6 * 60,
			MaxPerDay:       2,
			Title:           "Weather heads-up",
			MessageTemplate: "The weather looks rough today: {weather.description}. Better to stay cozy indoors.",
			Actions:         acknowledgeActions,
		},
		{
			ID:       "low_steps_nudge",
			Name:     "Afternoon activity nudge",
			Type:     models.CheckInTypeActivityNudge,
			Priority: models.PriorityLow,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeSteps, Field: "count", Operator: models.OperatorLT, Value: 1000},
			},
			CooldownMinutes: 4 * 60,
			MaxPerDay:       2,
			TimeWindow:      &models.TimeWindow{StartHour: 13, EndHour: 18},
			Title:           "Time to stretch?",
			MessageTemplate: "You've taken {steps.count} steps so far today. A short walk could feel nice.",
			Suggestion:      "Even five minutes around the home counts.",
			Actions:         acknowledgeActions,
		},
		{
			ID:       "inactivity_concern",
			Name:     "Extended inactivity check",
			Type:     models.CheckInTypeInactivityCheck,
			Priority: models.PriorityHigh,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeInactivity, Field: "minutesSinceActivity", Operator: models.OperatorGT, Value: 240},
				{SignalType: models.SignalTypeInactivity, Field: "concernLevel", Operator: models.OperatorEQ, Value: "high"},
			},
			CooldownMinutes: 120,
			MaxPerDay:       4,
			Title:           "Just checking in",
			MessageTemplate: "I haven't noticed any movement for a while. Is everything alright?",
			Actions:         inactivityActions,
		},
		{
			ID:       "inactivity_critical",
			Name:     "Critical inactivity check",
			Type:     models.CheckInTypeInactivityCheck,
			Priority: models.PriorityUrgent,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeInactivity, Field: "minutesSinceActivity", Operator: models.OperatorGT, Value: 480},
				{SignalType: models.SignalTypeInactivity, Field: "concernLevel", Operator: models.OperatorEQ, Value: "critical"},
			},
			CooldownMinutes: 60,
			MaxPerDay:       6,
			Title:           "Are you okay?",
			MessageTemplate: "It's been a long time since I noticed any activity. Please let me know you're okay.",
			Actions:         inactivityActions,
		},
		{
			ID:       "wellbeing_probe",
			Name:     "Wellbeing check",
			Type:     models.CheckInTypeWellbeingCheck,
			Priority: models.PriorityMedium,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeWellbeing, Field: "mood", Operator: models.OperatorContains, Value: "low"},
			},
			CooldownMinutes: 3 * 60,
			MaxPerDay:       3,
			Title:           "How are you feeling?",
			MessageTemplate: "You seemed a little down earlier. How are you feeling now?",
			Actions:         wellbeingActions,
		},
		{
			ID:       "upcoming_appointment",
			Name:     "Calendar reminder",
			Type:     models.CheckInTypeCalendarReminder,
			Priority: models.PriorityMedium,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeCalendar, Field: "minutesToNextEvent", Operator: models.OperatorBetween, Value: 0, SecondaryValue: 60},
			},
			CooldownMinutes: 45,
			MaxPerDay:       6,
			Title:           "Coming up",
			MessageTemplate: "Reminder: {calendar.nextEventTitle} is coming up soon.",
			Actions:         acknowledgeActions,
		},
		{
			ID:       "evening_reflection",
			Name:     "Evening reflection",
			Type:     models.CheckInTypeEveningReflection,
			Priority: models.PriorityLow,
			Enabled:  true,
			Conditions: []models.RuleCondition{
				{SignalType: models.SignalTypeSteps, Field: "count", Operator: models.OperatorGTE, Value: 0},
			},
			CooldownMinutes: 20 * 60,
			MaxPerDay:       1,
			TimeWindow:      &models.TimeWindow{StartHour: 19, EndHour: 21},
			Title:           "Winding down",
			MessageTemplate: "You took {steps.count} steps today. Anything nice you'd like to remember about today?",
			Actions:         acknowledgeActions,
		},
	})
}
