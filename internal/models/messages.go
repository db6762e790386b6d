package models

import "time"

// PlanChanged публикуется после того, как вебхук изменил тариф пользователя.
type PlanChanged struct {
	UserUID      string    `json:"user_uid"`
	PreviousPlan PlanCode  `json:"previous_plan"`
	NewPlan      PlanCode  `json:"new_plan"`
	EventType    string    `json:"event_type"`
	OccurredAt   time.Time `json:"occurred_at"`
}
