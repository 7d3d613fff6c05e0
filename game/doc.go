// Package game holds the authoritative round state machine and the treasure
// payout rule.
//
// A game moves Forming → Active → Closed → (Active | GameOver). Rounds are
// numbered from 1 and the sequence only moves forward; the game ends after a
// configured number of closed rounds. All mutation goes through State, which
// serializes access internally. The orchestrator and the client mirror both
// drive the same type.
package game
