// Copyright 2025 Certen Protocol

package validator

import "time"

// Result is returned on successful validation: §4.7's "result carrying
// {policy_id, claim_result_bit, validated_at, origin}".
type Result struct {
	PolicyID       string
	PolicyVersion  string
	ClaimResultBit bool
	ValidatedAt    time.Time
	Origin         string
}
