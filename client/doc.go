// Package client implements the peer agent: it joins a game, negotiates
// pairwise session keys with the other players, submits encrypted bids and
// mirrors the round state the orchestrator broadcasts.
//
// The agent never decides round transitions itself. Its local state follows
// start_round and end_round messages; the orchestrator's payout result is
// adopted as authoritative. Game progress is surfaced to the caller as a
// stream of events.
package client
