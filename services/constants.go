package services

const (
	MaxLocationLength = 200
	MaxNoteLength     = 1000
	MaxTitleLength    = 100
	MaxTravelerName   = 50
)

const (
	DefaultGeneratedTime = "12:00"
	ArrivalTime          = "10:00"
	ArrivalNote          = "Flight Arrival"
)

const (
	GeneralRateLimit = 500
	AIRateLimit      = 8
)
