package models

// PlanCode внутренний идентификатор тарифа.
type PlanCode string

const (
	PlanFree    PlanCode = "free"
	PlanStarter PlanCode = "starter"
	PlanPro     PlanCode = "pro"
	PlanAgency  PlanCode = "agency"
)

// Valid сообщает, является ли код одним из известных тарифов.
func (p PlanCode) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanPro, PlanAgency:
		return true
	}
	return false
}

// Paid сообщает, требует ли тариф оплаты.
func (p PlanCode) Paid() bool {
	return p.Valid() && p != PlanFree
}
