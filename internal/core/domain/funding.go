package domain

import "github.com/google/uuid"

// BuildFundingKey constructs the idempotency key for one add-funds attempt.
// Format: "user_id:funds:nonce".
func BuildFundingKey(userID uuid.UUID, nonce string) string {
	return userID.String() + ":funds:" + nonce
}
