package storage

import "time"

// AlertCondition is the direction of a threshold alert.
type AlertCondition string

const (
	ConditionAbove AlertCondition = "ABOVE"
	ConditionBelow AlertCondition = "BELOW"
)

// AlertStatus is an alert's lifecycle state. TRIGGERED is terminal for the
// evaluator; an alert never transitions back to ACTIVE.
type AlertStatus string

const (
	StatusActive    AlertStatus = "ACTIVE"
	StatusTriggered AlertStatus = "TRIGGERED"
	StatusDisabled  AlertStatus = "DISABLED"
)

// Alert is a user-defined threshold alert. Created and deleted by the CRUD
// layer; mutated here only via TriggerAlert and MarkNotified.
type Alert struct {
	ID          int64
	ChatID      string
	Symbol      string
	Condition   AlertCondition
	Threshold   int64
	Status      AlertStatus
	CreatedAt   time.Time
	TriggeredAt *time.Time
	NotifiedAt  *time.Time
}

// PriceRecord is one published quote appended to local history.
type PriceRecord struct {
	ID          int64
	Symbol      string
	Price       int64
	Decimals    int16
	Source      string
	TxHash      string
	PublishedAt time.Time
	CreatedAt   time.Time
}
