// Package exchange implements the secret-bid exchange: the originator
// encrypts the same bid value individually for every other participant under
// the pairwise session key, and each recipient independently decrypts,
// range-checks and verifies the copy addressed to it.
//
// Verification is tracked in an explicit per-(originator, round) accumulator
// that moves pending → verified → rejected and is never silently
// overwritten. Two decrypted copies for the same originator and round that
// disagree are a detectable-cheating signal (InconsistentBid), not a value
// to be averaged.
//
// The scheme reveals the full value to each recipient: it provides origin
// authenticity (session keys are peer-exclusive) and tamper evidence, not
// secrecy against a colluding subset.
package exchange
