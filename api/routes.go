package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// InfoEndpoint returns the cluster public key
	InfoEndpoint = "/info"

	// PollsEndpoint is the endpoint for creating and listing polls
	PollsEndpoint = "/polls"
	// PollEndpoint is the endpoint to get the poll info
	PollURLParam = "pollId"
	PollEndpoint = "/polls/{" + PollURLParam + "}"
	// RetryTallyEndpoint requeues a failed tally initialization
	RetryTallyEndpoint = PollEndpoint + "/tally/retry"
	// VotesEndpoint is the endpoint for casting a vote on a poll
	VotesEndpoint = PollEndpoint + "/votes"
	// ReceiptEndpoint returns the receipt of a voter
	AddressURLParam = "address"
	ReceiptEndpoint = PollEndpoint + "/receipts/{" + AddressURLParam + "}"
	// RevealEndpoint is the endpoint for requesting the outcome reveal
	RevealEndpoint = PollEndpoint + "/reveal"

	// ComputationEndpoint returns the status of a queued computation
	ComputationURLParam = "computationId"
	ComputationEndpoint = "/computations/{" + ComputationURLParam + "}"
)
