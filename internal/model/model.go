// Package model defines the core data structures for the oracle consensus engine.
package model

// Price values are fixed-point integers. The engine attaches no decimal
// interpretation of its own; callers are expected to use a consistent
// scale per asset (7 decimals for the assets this adapter serves).

// OracleReputation tracks the accumulated accuracy history of a single
// oracle and the trust weight derived from it.
type OracleReputation struct {
	// TotalSubmissions counts every submission this oracle has ever
	// contributed to a finished round
	TotalSubmissions uint32 `json:"total_submissions"`

	// AccurateSubmissions counts submissions within the accuracy
	// threshold of the round's consensus
	AccurateSubmissions uint32 `json:"accurate_submissions"`

	// AvgDeviation is the running average absolute deviation from
	// consensus, in basis points (10000 bps = 100%)
	AvgDeviation int64 `json:"avg_deviation"`

	// ReputationScore is the 0-100 score recomputed every round
	ReputationScore uint32 `json:"reputation_score"`

	// Weight is the discrete trust multiplier in {0,1,2,5,10},
	// always derived from ReputationScore
	Weight uint32 `json:"weight"`

	// LastSlash is the unix timestamp of the most recent penalty
	LastSlash uint64 `json:"last_slash"`
}

// NewOracleReputation returns the default record assigned to a freshly
// registered oracle: neutral score, minimum positive weight, no history.
func NewOracleReputation() OracleReputation {
	return OracleReputation{
		ReputationScore: 50,
		Weight:          1,
	}
}

// PriceSubmission is one price reported by one oracle within the
// current round. Submissions are consumed when consensus is computed.
type PriceSubmission struct {
	// Oracle is the submitting oracle's identity
	Oracle string `json:"oracle"`

	// Price is the submitted fixed-point price, always positive
	Price int64 `json:"price"`

	// Timestamp is the unix time the submission was accepted
	Timestamp uint64 `json:"timestamp"`
}

// ConsensusPriceData is the result of a consensus round. Each round
// overwrites the previous instance; it represents the current accepted
// price.
type ConsensusPriceData struct {
	// Price is the weighted-median consensus price
	Price int64 `json:"price"`

	// Timestamp is the unix time the round was finalized
	Timestamp uint64 `json:"timestamp"`

	// NumOracles is the number of submissions folded into this round
	NumOracles uint32 `json:"num_oracles"`
}

// SignedObservation is an externally signed price observation delivered
// through the secondary batch ingestion path. The signature covers
// feed, price, timestamp and round id, and must recover to Oracle.
type SignedObservation struct {
	// Feed identifies the asset pair the observation is for
	Feed string `json:"feed"`

	// Price is the observed fixed-point price
	Price int64 `json:"price"`

	// Timestamp is the unix time the observation was produced
	Timestamp uint64 `json:"timestamp"`

	// RoundID is the reporter's round counter, bound into the signature
	RoundID uint64 `json:"round_id"`

	// Oracle is the claimed reporter identity (0x-prefixed address)
	Oracle string `json:"oracle"`

	// Signature is the 65-byte secp256k1 signature over the
	// observation digest
	Signature []byte `json:"signature"`
}
