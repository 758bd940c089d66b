package topics

const (
	// Apostas
	WagerPlayed  = "wager_played"
	WagerSettled = "wager_settled"

	// Funds
	FundsWithdrawn = "funds_withdrawn"

	// DLQs
	WagerDLQ = "wager_events_dlq"
)
