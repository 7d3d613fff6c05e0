package game

import "errors"

var (
	// ErrRosterFull indicates a join attempt beyond the configured maximum.
	ErrRosterFull = errors.New("game: roster is full")

	// ErrGameInProgress indicates a join attempt while a round is active.
	ErrGameInProgress = errors.New("game: game already in progress")

	// ErrDuplicateParticipant indicates a join with an id already in the roster.
	ErrDuplicateParticipant = errors.New("game: participant already joined")

	// ErrUnknownParticipant indicates an operation for an id not in the roster.
	ErrUnknownParticipant = errors.New("game: unknown participant")

	// ErrRoundNotActive indicates a bid or close outside an active round.
	ErrRoundNotActive = errors.New("game: round not active")

	// ErrDuplicateBid indicates a second verified bid for the same
	// participant in the same round.
	ErrDuplicateBid = errors.New("game: bid already verified for this round")

	// ErrBidOutOfRange indicates a bid outside [0, treasure amount].
	ErrBidOutOfRange = errors.New("game: bid out of range")

	// ErrRoundIncomplete indicates a close attempt with fewer verified bids
	// than the current roster size.
	ErrRoundIncomplete = errors.New("game: not all bids verified")

	// ErrGameOver indicates a transition attempt after the final round.
	ErrGameOver = errors.New("game: game is over")
)
