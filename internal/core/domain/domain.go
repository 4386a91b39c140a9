package domain

import "time"

// Message represents one e-mail read from a message source.
type Message struct {
	ID      string
	Source  string
	Subject string
	Body    string
	Sender  string
	Date    time.Time
}

// BotType describes how a profile's search is operated.
type BotType string

// Bot types.
const (
	BotTypeAutomatic BotType = "automatic"
	BotTypeManual    BotType = "manual"
	BotTypeOffline   BotType = "offline"
)

// BotTypes lists the closed set of bot types in display order.
var BotTypes = []BotType{BotTypeAutomatic, BotTypeManual, BotTypeOffline}

// SuccessCategory buckets a profile's success ratio.
type SuccessCategory string

// Success categories, evaluated top-down on the ratio.
const (
	CategoryOptimal    SuccessCategory = "optimal"
	CategoryHigh       SuccessCategory = "high"
	CategoryMedium     SuccessCategory = "medium"
	CategoryLow        SuccessCategory = "low"
	CategoryVeryLow    SuccessCategory = "very_low"
	CategoryNoTracking SuccessCategory = "no_tracking"
)

// Categories lists every success category in descending order.
var Categories = []SuccessCategory{
	CategoryOptimal,
	CategoryHigh,
	CategoryMedium,
	CategoryLow,
	CategoryVeryLow,
	CategoryNoTracking,
}

// Field limits.
const (
	MinNameLength         = 2
	MaxNameLength         = 50
	MaxCriteria           = 3
	MinCriterionLength    = 2
	MaxCriterionLength    = 100
	MaxSenderFilters      = 50
	MaxSenderFilterLength = 254
	MaxResponsibleLength  = 100
	MaxNoteLength         = 200
)

// DefaultAlertThreshold is the success ratio below which an alert should fire.
const DefaultAlertThreshold = 90.0
