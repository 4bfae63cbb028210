// Package common contains shared constants, sentinel errors and small helpers
// used across letterflow components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the access
// token on ops calls.
const AccessTokenHeaderName = "access_token"

// IdempotencyKeyHeader is the HTTP header that makes letter creation replayable.
const IdempotencyKeyHeader = "Idempotency-Key"

// SerialPrefix prefixes every letter serial number.
const SerialPrefix = "HR"
