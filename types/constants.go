package types

const (
	// MaxQuestionLength is the maximum size of a poll question in bytes.
	MaxQuestionLength = 300
)

// Names of the operations the poll program submits to the computation bridge.
const (
	OpInitTally    = "init_tally"
	OpVote         = "vote"
	OpRevealResult = "reveal_result"
)
