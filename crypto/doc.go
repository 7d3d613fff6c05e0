// Package crypto implements the key exchange used by the bid protocol.
//
// Each process owns one long-lived P-256 keypair. Peers announce their
// public keys on join; pairwise 256-bit session keys are then wrapped with
// ECIES (ephemeral ECDH + AES-256-GCM) and all subsequent bid payloads are
// encrypted symmetrically under the session key. Session keys live only in
// memory and are never persisted.
package crypto
