// Package crawl fetches ranked candidates in order and keeps the first one that
// passes the quality gate.
package crawl

import (
	"math"

	"storyline/internal/core"
)

// Zone is the partition a relevance score falls into.
type Zone int

const (
	ZoneReject Zone = iota
	ZoneUncertain
	ZoneAccept
)

func (z Zone) String() string {
	switch z {
	case ZoneAccept:
		return "accept"
	case ZoneUncertain:
		return "uncertain"
	}
	return "reject"
}

// Thresholds are the three-zone gate boundaries.
type Thresholds struct {
	Accept           float64 // at or above: accept without verification
	Reject           float64 // below: discard without verification
	VerifyScoreFloor float64 // verification relevance (0-10) that accepts on its own
}

// DefaultThresholds returns the standard gate.
func DefaultThresholds() Thresholds {
	return Thresholds{Accept: 0.6, Reject: 0.35, VerifyScoreFloor: 6}
}

// Zone classifies an embedding relevance score.
func (t Thresholds) Zone(score float64) Zone {
	switch {
	case score >= t.Accept:
		return ZoneAccept
	case score < t.Reject:
		return ZoneReject
	}
	return ZoneUncertain
}

// Verified reports whether a verification result accepts the candidate.
func (t Thresholds) Verified(v *core.VerificationResult) bool {
	return v != nil && (v.SameEvent || v.Relevance >= t.VerifyScoreFloor)
}

// Fallback decides an uncertain score when verification is unavailable: the
// upper half of the uncertain band is accepted.
func (t Thresholds) Fallback(score float64) bool {
	return score >= (t.Accept+t.Reject)/2
}

// WeightedScore discounts a signal by the candidate's attempt order. It is kept
// for analysis only and never decides acceptance.
func WeightedScore(signal float64, order int) float64 {
	if order < 1 {
		order = 1
	}
	boost := math.Max(0.75, 1-0.05*float64(order-1))
	return signal * boost
}
