package chaincode

import "fmt"

// Category determines the id-allocation range and default policy of a badge type.
type Category string

const (
	CategoryCertificate Category = "Certificate"
	CategoryEvent       Category = "Event"
	CategoryAchievement Category = "Achievement"
	CategoryWorkshop    Category = "Workshop"
)

// categoryBases are fixed, non-overlapping id ranges. Ids never collide across
// categories and are strictly increasing within one.
var categoryBases = map[Category]uint64{
	CategoryCertificate: 1000,
	CategoryEvent:       2000,
	CategoryAchievement: 3000,
	CategoryWorkshop:    4000,
}

func parseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := categoryBases[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

// Capability is a named permission grantable to an account.
type Capability string

const (
	CapabilityAdmin          Capability = "Admin"
	CapabilityIssuer         Capability = "Issuer"
	CapabilityMetadataSetter Capability = "MetadataSetter"
	CapabilityPauser         Capability = "Pauser"
)

var allCapabilities = []Capability{
	CapabilityAdmin,
	CapabilityIssuer,
	CapabilityMetadataSetter,
	CapabilityPauser,
}

func parseCapability(s string) (Capability, error) {
	for _, c := range allCapabilities {
		if Capability(s) == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// BadgeType is the immutable record of a registered badge type. Only its
// metadata reference (stored separately) may change after creation.
type BadgeType struct {
	ID           uint64   `json:"id"`
	Name         string   `json:"name"`
	Category     Category `json:"category"`
	MaxSupply    uint64   `json:"max_supply"` // 0 = unlimited
	Transferable bool     `json:"transferable"`
	ValidUntil   int64    `json:"valid_until"` // unix seconds, 0 = no expiry
	Issuer       string   `json:"issuer"`
}

// CapabilityGrant records who granted a capability to an account.
type CapabilityGrant struct {
	Capability Capability `json:"capability"`
	Account    string     `json:"account"`
	GrantedBy  string     `json:"granted_by"`
	GrantedAt  int64      `json:"granted_at"`
}

// VerificationResult is returned by VerifyBadge.
type VerificationResult struct {
	Valid    bool  `json:"valid"`
	EarnedAt int64 `json:"earned_at"`
}

// Event payloads. Events are an append-only log for off-chain indexers and
// are never read back into engine state.
type TypeCreatedEvent struct {
	ID       uint64   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
}

type WorkshopSeriesCreatedEvent struct {
	Series string   `json:"series"`
	IDs    []uint64 `json:"ids"`
}

type AchievementGrantedEvent struct {
	ID      uint64 `json:"id"`
	Account string `json:"account"`
	Name    string `json:"name"`
}

type BadgeIssuedEvent struct {
	ID      uint64 `json:"id"`
	Account string `json:"account"`
}

type BatchIssuedEvent struct {
	ID    uint64 `json:"id"`
	Count int    `json:"count"`
}

type BadgeTransferredEvent struct {
	ID     uint64 `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BadgeBurnedEvent struct {
	ID      uint64 `json:"id"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// World-state keys.
const pausedKey = "PAUSED"

func typeKey(id uint64) string { return fmt.Sprintf("TYPE_%d", id) }

func counterKey(c Category) string { return "COUNTER_" + string(c) }

func balanceKey(account string, id uint64) string { return fmt.Sprintf("BAL_%s_%d", account, id) }

func supplyKey(id uint64) string { return fmt.Sprintf("SUPPLY_%d", id) }

func holderKey(account string) string { return "HELD_" + account }

func earnedKey(id uint64, account string) string { return fmt.Sprintf("EARNED_%d_%s", id, account) }

func capabilityKey(c Capability, account string) string {
	return fmt.Sprintf("CAP_%s_%s", c, account)
}

func metadataKey(id uint64) string { return fmt.Sprintf("META_%d", id) }
