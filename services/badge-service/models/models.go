package models

import "time"

// BadgeType mirrors the on-chain type record.
type BadgeType struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	MaxSupply    uint64 `json:"max_supply"`
	Transferable bool   `json:"transferable"`
	ValidUntil   int64  `json:"valid_until"`
	Issuer       string `json:"issuer"`
	MetadataRef  string `json:"metadata_ref,omitempty"`
}

type CreateTypeRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	MaxSupply    uint64 `json:"max_supply"`
	Transferable bool   `json:"transferable"`
	MetadataRef  string `json:"metadata_ref"`
}

type WorkshopSeriesRequest struct {
	SeriesName string `json:"series_name"`
	Sessions   int    `json:"sessions"`
}

type AchievementRequest struct {
	Account    string `json:"account"`
	Name       string `json:"name"`
	RarityTier uint64 `json:"rarity_tier"`
}

type IssueRequest struct {
	Account string `json:"account"`
	TypeID  uint64 `json:"type_id"`
}

type BatchIssueRequest struct {
	Accounts   []string `json:"accounts"`
	TypeID     uint64   `json:"type_id"`
	AmountEach uint64   `json:"amount_each"`
}

type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	TypeID uint64 `json:"type_id"`
	Amount uint64 `json:"amount"`
}

type VerifyResponse struct {
	Valid    bool  `json:"valid"`
	EarnedAt int64 `json:"earned_at"`
}

type Holdings struct {
	Account string   `json:"account"`
	TypeIDs []uint64 `json:"type_ids"`
}

type Balance struct {
	Account string `json:"account"`
	TypeID  uint64 `json:"type_id"`
	Amount  uint64 `json:"amount"`
}

// Issuance is the local journal row for a submitted issuance.
type Issuance struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	TypeID    uint64    `json:"type_id"`
	Amount    uint64    `json:"amount"`
	Status    string    `json:"status"` // Pending, Confirmed, Failed
	CreatedAt time.Time `json:"created_at"`
}
