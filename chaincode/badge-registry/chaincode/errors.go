package chaincode

import "errors"

// Every mutating operation fails as a unit: all checks run before the first
// write, so a rejected call leaves the world state untouched. These sentinels
// are the stable error identities surfaced to callers; match with errors.Is.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrTypeNotFound     = errors.New("badge type not found")
	ErrSupplyExhausted  = errors.New("supply exhausted")
	ErrTransferDisabled = errors.New("transfer disabled")
	ErrSystemPaused     = errors.New("system paused")
)
