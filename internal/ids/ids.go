// Package ids generates identifiers for basket tokens, rebalance requests
// and rebalance operations. Token and request IDs are random; operation IDs
// are deterministic so replanning the same request yields the same IDs.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"metal-basket-engine/internal/domain"
)

const (
	tokenPrefix   = "MBT-"
	requestPrefix = "REBAL-"
	opPrefix      = "OP-"
)

// NewTokenID returns a fresh basket token ID: "MBT-" + base58(uuid).
func NewTokenID() string {
	return tokenPrefix + randomSuffix()
}

// NewRequestID returns a fresh rebalance request ID: "REBAL-" + base58(uuid).
func NewRequestID() string {
	return requestPrefix + randomSuffix()
}

// OperationID computes a deterministic operation ID using SHA256.
// Formula: "OP-" + hex(SHA256(request_id|constituent))[:32]
func OperationID(requestID string, c domain.Constituent) string {
	data := fmt.Sprintf("%s|%s", requestID, string(c))
	hash := sha256.Sum256([]byte(data))
	return opPrefix + hex.EncodeToString(hash[:])[:32]
}

func randomSuffix() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
