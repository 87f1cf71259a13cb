package chaincode

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// BadgeContract manages typed, categorized badge/credential tokens for the
// workshop platform: category-based id allocation, supply-capped minting,
// soulbound-vs-transferable policy, pausing, and holder indexing.
type BadgeContract struct {
	contractapi.Contract
}

// balanceChange classifies a balance-changing operation for the guard.
type balanceChange int

const (
	changeMint balanceChange = iota
	changeBurn
	changeTransfer
)

// InitLedger grants all four capabilities to the initializing identity.
func (s *BadgeContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	caller, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return fmt.Errorf("failed to resolve caller identity: %v", err)
	}
	now, err := txTime(ctx.GetStub())
	if err != nil {
		return err
	}
	for _, c := range allCapabilities {
		if err := s.putGrant(ctx.GetStub(), c, caller, caller, now); err != nil {
			return err
		}
	}
	return nil
}

// GrantCapability grants a capability to an account. Granting an already-held
// capability is a no-op. Requires Admin.
func (s *BadgeContract) GrantCapability(ctx contractapi.TransactionContextInterface, capability string, account string) error {
	caller, err := s.requireCapability(ctx, CapabilityAdmin)
	if err != nil {
		return err
	}
	c, err := parseCapability(capability)
	if err != nil {
		return err
	}
	held, err := s.hasCapability(ctx, c, account)
	if err != nil {
		return err
	}
	if held {
		return nil
	}
	now, err := txTime(ctx.GetStub())
	if err != nil {
		return err
	}
	return s.putGrant(ctx.GetStub(), c, account, caller, now)
}

// RevokeCapability removes a capability from an account. Revoking a
// capability the account does not hold is a no-op. Requires Admin.
func (s *BadgeContract) RevokeCapability(ctx contractapi.TransactionContextInterface, capability string, account string) error {
	if _, err := s.requireCapability(ctx, CapabilityAdmin); err != nil {
		return err
	}
	c, err := parseCapability(capability)
	if err != nil {
		return err
	}
	return ctx.GetStub().DelState(capabilityKey(c, account))
}

// HasCapability reports whether an account holds a capability.
func (s *BadgeContract) HasCapability(ctx contractapi.TransactionContextInterface, capability string, account string) (bool, error) {
	c, err := parseCapability(capability)
	if err != nil {
		return false, err
	}
	return s.hasCapability(ctx, c, account)
}

// CreateBadgeType registers a new badge type and returns its id. The Nth type
// created in a category receives base(category) + N - 1. Requires Issuer.
func (s *BadgeContract) CreateBadgeType(ctx contractapi.TransactionContextInterface, name string, category string, maxSupply uint64, transferable bool, metadataRef string) (uint64, error) {
	caller, err := s.requireCapability(ctx, CapabilityIssuer)
	if err != nil {
		return 0, err
	}
	cat, err := parseCategory(category)
	if err != nil {
		return 0, err
	}

	bt, err := s.createType(ctx.GetStub(), caller, name, cat, maxSupply, transferable, metadataRef)
	if err != nil {
		return 0, err
	}

	evt, _ := json.Marshal(TypeCreatedEvent{ID: bt.ID, Name: bt.Name, Category: bt.Category})
	ctx.GetStub().SetEvent("TypeCreated", evt)

	return bt.ID, nil
}

// CreateWorkshopSeries creates one Workshop-category type per session, named
// "<seriesName> - Session <k>", each unlimited and transferable. Returns the
// ids in creation order. Requires Issuer.
func (s *BadgeContract) CreateWorkshopSeries(ctx contractapi.TransactionContextInterface, seriesName string, sessionCount int) ([]uint64, error) {
	caller, err := s.requireCapability(ctx, CapabilityIssuer)
	if err != nil {
		return nil, err
	}
	if sessionCount <= 0 {
		return nil, fmt.Errorf("session count must be positive")
	}

	ids := make([]uint64, 0, sessionCount)
	for k := 1; k <= sessionCount; k++ {
		name := fmt.Sprintf("%s - Session %d", seriesName, k)
		bt, err := s.createType(ctx.GetStub(), caller, name, CategoryWorkshop, 0, true, "")
		if err != nil {
			return nil, err
		}
		ids = append(ids, bt.ID)
	}

	// Fabric permits one event per transaction, so the series emits a single
	// aggregate event instead of one TypeCreated per session.
	evt, _ := json.Marshal(WorkshopSeriesCreatedEvent{Series: seriesName, IDs: ids})
	ctx.GetStub().SetEvent("WorkshopSeriesCreated", evt)

	return ids, nil
}

// GrantSpecialAchievement creates a non-transferable Achievement type with a
// rarity-derived max supply and issues one unit to the account in the same
// transaction. Tier 1 is legendary (supply 1), tiers 2-10 rare (supply 10),
// above 10 common (supply 100). Requires Issuer.
func (s *BadgeContract) GrantSpecialAchievement(ctx contractapi.TransactionContextInterface, account string, achievementName string, rarityTier uint64) (uint64, error) {
	caller, err := s.requireCapability(ctx, CapabilityIssuer)
	if err != nil {
		return 0, err
	}
	if rarityTier < 1 {
		return 0, fmt.Errorf("rarity tier must be at least 1")
	}
	// The paired issuance must succeed too, so check the guard before
	// creating the type.
	if err := s.authorizeBalanceChange(ctx, changeMint, nil); err != nil {
		return 0, err
	}

	var maxSupply uint64
	switch {
	case rarityTier == 1:
		maxSupply = 1
	case rarityTier <= 10:
		maxSupply = 10
	default:
		maxSupply = 100
	}

	bt, err := s.createType(ctx.GetStub(), caller, achievementName, CategoryAchievement, maxSupply, false, "")
	if err != nil {
		return 0, err
	}

	now, err := txTime(ctx.GetStub())
	if err != nil {
		return 0, err
	}
	if err := s.credit(ctx.GetStub(), bt.ID, account, 1, now); err != nil {
		return 0, err
	}

	evt, _ := json.Marshal(AchievementGrantedEvent{ID: bt.ID, Account: account, Name: bt.Name})
	ctx.GetStub().SetEvent("AchievementGranted", evt)

	return bt.ID, nil
}

// IssueBadge mints one unit of a badge type to an account. Requires Issuer.
func (s *BadgeContract) IssueBadge(ctx contractapi.TransactionContextInterface, account string, typeID uint64) error {
	if _, err := s.requireCapability(ctx, CapabilityIssuer); err != nil {
		return err
	}
	bt, err := s.getBadgeType(ctx.GetStub(), typeID)
	if err != nil {
		return err
	}
	if err := s.authorizeBalanceChange(ctx, changeMint, bt); err != nil {
		return err
	}

	supply, err := getUint(ctx.GetStub(), supplyKey(typeID))
	if err != nil {
		return err
	}
	if bt.MaxSupply > 0 && supply >= bt.MaxSupply {
		return fmt.Errorf("%w: badge type %d reached max supply %d", ErrSupplyExhausted, typeID, bt.MaxSupply)
	}

	now, err := txTime(ctx.GetStub())
	if err != nil {
		return err
	}
	if err := s.credit(ctx.GetStub(), typeID, account, 1, now); err != nil {
		return err
	}

	evt, _ := json.Marshal(BadgeIssuedEvent{ID: typeID, Account: account})
	ctx.GetStub().SetEvent("BadgeIssued", evt)

	return nil
}

// IssueBatch mints amountEach units of a badge type to every account, in
// order. The projected supply is checked before any balance is touched, so
// the batch is all-or-nothing. Requires Issuer.
func (s *BadgeContract) IssueBatch(ctx contractapi.TransactionContextInterface, accounts []string, typeID uint64, amountEach uint64) error {
	if _, err := s.requireCapability(ctx, CapabilityIssuer); err != nil {
		return err
	}
	bt, err := s.getBadgeType(ctx.GetStub(), typeID)
	if err != nil {
		return err
	}
	if err := s.authorizeBalanceChange(ctx, changeMint, bt); err != nil {
		return err
	}

	if bt.MaxSupply > 0 {
		supply, err := getUint(ctx.GetStub(), supplyKey(typeID))
		if err != nil {
			return err
		}
		// supply never exceeds MaxSupply, so the headroom subtraction is safe;
		// the division catches a wrapped product.
		total := uint64(len(accounts)) * amountEach
		if (amountEach != 0 && total/amountEach != uint64(len(accounts))) || total > bt.MaxSupply-supply {
			return fmt.Errorf("%w: batch of %d x %d would exceed max supply %d", ErrSupplyExhausted, len(accounts), amountEach, bt.MaxSupply)
		}
	}

	now, err := txTime(ctx.GetStub())
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := s.credit(ctx.GetStub(), typeID, account, amountEach, now); err != nil {
			return err
		}
	}

	evt, _ := json.Marshal(BatchIssuedEvent{ID: typeID, Count: len(accounts)})
	ctx.GetStub().SetEvent("BatchIssued", evt)

	return nil
}

// TransferBadge moves badge units between two accounts. The guard rejects
// soulbound types and any transfer while the system is paused. The holder
// index and earned-at records track issuance only and are not touched.
func (s *BadgeContract) TransferBadge(ctx contractapi.TransactionContextInterface, from string, to string, typeID uint64, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	bt, err := s.getBadgeType(ctx.GetStub(), typeID)
	if err != nil {
		return err
	}
	if err := s.authorizeBalanceChange(ctx, changeTransfer, bt); err != nil {
		return err
	}

	fromBal, err := getUint(ctx.GetStub(), balanceKey(from, typeID))
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("insufficient balance: %s holds %d of type %d", from, fromBal, typeID)
	}

	// Debit before reading the destination so a self-transfer nets to zero
	// instead of re-crediting the stale balance.
	if err := putUint(ctx.GetStub(), balanceKey(from, typeID), fromBal-amount); err != nil {
		return err
	}
	toBal, err := getUint(ctx.GetStub(), balanceKey(to, typeID))
	if err != nil {
		return err
	}
	if err := putUint(ctx.GetStub(), balanceKey(to, typeID), toBal+amount); err != nil {
		return err
	}

	evt, _ := json.Marshal(BadgeTransferredEvent{ID: typeID, From: from, To: to, Amount: amount})
	ctx.GetStub().SetEvent("BadgeTransferred", evt)

	return nil
}

// BurnBadge destroys badge units held by an account and reduces the type's
// supply. Burns are exempt from the transferable flag but not from the pause.
// Requires Issuer.
func (s *BadgeContract) BurnBadge(ctx contractapi.TransactionContextInterface, account string, typeID uint64, amount uint64) error {
	if _, err := s.requireCapability(ctx, CapabilityIssuer); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	bt, err := s.getBadgeType(ctx.GetStub(), typeID)
	if err != nil {
		return err
	}
	if err := s.authorizeBalanceChange(ctx, changeBurn, bt); err != nil {
		return err
	}

	bal, err := getUint(ctx.GetStub(), balanceKey(account, typeID))
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("insufficient balance: %s holds %d of type %d", account, bal, typeID)
	}
	supply, err := getUint(ctx.GetStub(), supplyKey(typeID))
	if err != nil {
		return err
	}

	if err := putUint(ctx.GetStub(), balanceKey(account, typeID), bal-amount); err != nil {
		return err
	}
	if err := putUint(ctx.GetStub(), supplyKey(typeID), supply-amount); err != nil {
		return err
	}

	evt, _ := json.Marshal(BadgeBurnedEvent{ID: typeID, Account: account, Amount: amount})
	ctx.GetStub().SetEvent("BadgeBurned", evt)

	return nil
}

// VerifyBadge reports whether an account currently holds a valid badge of the
// given type, and when it was last issued one (0 if never). A badge is valid
// while the balance is positive and the type's expiry, if any, has not passed.
func (s *BadgeContract) VerifyBadge(ctx contractapi.TransactionContextInterface, account string, typeID uint64) (*VerificationResult, error) {
	earned, err := getInt(ctx.GetStub(), earnedKey(typeID, account))
	if err != nil {
		return nil, err
	}
	result := &VerificationResult{EarnedAt: earned}

	raw, err := ctx.GetStub().GetState(typeKey(typeID))
	if err != nil {
		return nil, fmt.Errorf("failed to read badge type: %v", err)
	}
	if raw == nil {
		// Never created, so nothing to hold.
		return result, nil
	}
	var bt BadgeType
	if err := json.Unmarshal(raw, &bt); err != nil {
		return nil, err
	}

	bal, err := getUint(ctx.GetStub(), balanceKey(account, typeID))
	if err != nil {
		return nil, err
	}
	now, err := txTime(ctx.GetStub())
	if err != nil {
		return nil, err
	}
	result.Valid = bal > 0 && (bt.ValidUntil == 0 || now <= bt.ValidUntil)
	return result, nil
}

// SetBadgeMetadata overwrites the metadata reference for a type id. The id is
// deliberately not checked for existence; references may be staged before the
// type is created. Requires MetadataSetter.
func (s *BadgeContract) SetBadgeMetadata(ctx contractapi.TransactionContextInterface, typeID uint64, ref string) error {
	if _, err := s.requireCapability(ctx, CapabilityMetadataSetter); err != nil {
		return err
	}
	return ctx.GetStub().PutState(metadataKey(typeID), []byte(ref))
}

// GetBadgeMetadata returns the metadata reference for a type id, or "" if
// never set.
func (s *BadgeContract) GetBadgeMetadata(ctx contractapi.TransactionContextInterface, typeID uint64) (string, error) {
	raw, err := ctx.GetStub().GetState(metadataKey(typeID))
	if err != nil {
		return "", fmt.Errorf("failed to read metadata: %v", err)
	}
	return string(raw), nil
}

// Pause blocks every mint, burn, and transfer until Unpause. Requires Pauser.
func (s *BadgeContract) Pause(ctx contractapi.TransactionContextInterface) error {
	if _, err := s.requireCapability(ctx, CapabilityPauser); err != nil {
		return err
	}
	return ctx.GetStub().PutState(pausedKey, []byte("true"))
}

// Unpause re-enables balance changes. Requires Pauser.
func (s *BadgeContract) Unpause(ctx contractapi.TransactionContextInterface) error {
	if _, err := s.requireCapability(ctx, CapabilityPauser); err != nil {
		return err
	}
	return ctx.GetStub().PutState(pausedKey, []byte("false"))
}

// IsPaused reports the pause state.
func (s *BadgeContract) IsPaused(ctx contractapi.TransactionContextInterface) (bool, error) {
	return s.isPaused(ctx)
}

// GetBadgeType returns the registered type record for an id.
func (s *BadgeContract) GetBadgeType(ctx contractapi.TransactionContextInterface, typeID uint64) (*BadgeType, error) {
	return s.getBadgeType(ctx.GetStub(), typeID)
}

// BalanceOf returns the quantity of a badge type held by an account (0 if
// none).
func (s *BadgeContract) BalanceOf(ctx contractapi.TransactionContextInterface, account string, typeID uint64) (uint64, error) {
	return getUint(ctx.GetStub(), balanceKey(account, typeID))
}

// CurrentSupply returns the aggregate issued quantity of a badge type. It is
// maintained incrementally on every mint and burn, never recomputed.
func (s *BadgeContract) CurrentSupply(ctx contractapi.TransactionContextInterface, typeID uint64) (uint64, error) {
	return getUint(ctx.GetStub(), supplyKey(typeID))
}

// TokensHeldBy returns the distinct badge type ids ever issued to an account,
// in first-issuance order. An id stays in the index even if the balance later
// reaches zero.
func (s *BadgeContract) TokensHeldBy(ctx contractapi.TransactionContextInterface, account string) ([]uint64, error) {
	raw, err := ctx.GetStub().GetState(holderKey(account))
	if err != nil {
		return nil, fmt.Errorf("failed to read holder index: %v", err)
	}
	held := []uint64{}
	if raw != nil {
		if err := json.Unmarshal(raw, &held); err != nil {
			return nil, err
		}
	}
	return held, nil
}

// requireCapability resolves the caller identity and checks the grant. Every
// mutating operation goes through here; nothing checks capabilities inline.
func (s *BadgeContract) requireCapability(ctx contractapi.TransactionContextInterface, c Capability) (string, error) {
	caller, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller identity: %v", err)
	}
	held, err := s.hasCapability(ctx, c, caller)
	if err != nil {
		return "", err
	}
	if !held {
		return "", fmt.Errorf("%w: caller lacks %s capability", ErrUnauthorized, c)
	}
	return caller, nil
}

func (s *BadgeContract) hasCapability(ctx contractapi.TransactionContextInterface, c Capability, account string) (bool, error) {
	raw, err := ctx.GetStub().GetState(capabilityKey(c, account))
	if err != nil {
		return false, fmt.Errorf("failed to read capability grant: %v", err)
	}
	return raw != nil, nil
}

func (s *BadgeContract) putGrant(stub shim.ChaincodeStubInterface, c Capability, account, grantedBy string, now int64) error {
	grant := CapabilityGrant{Capability: c, Account: account, GrantedBy: grantedBy, GrantedAt: now}
	raw, _ := json.Marshal(grant)
	return stub.PutState(capabilityKey(c, account), raw)
}

// authorizeBalanceChange is consulted on every mint, burn, and transfer. The
// pause applies to all three classes; the transferable flag only to transfers.
func (s *BadgeContract) authorizeBalanceChange(ctx contractapi.TransactionContextInterface, kind balanceChange, bt *BadgeType) error {
	paused, err := s.isPaused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("%w: balance changes are disabled", ErrSystemPaused)
	}
	if kind == changeTransfer && !bt.Transferable {
		return fmt.Errorf("%w: badge type %d is soulbound", ErrTransferDisabled, bt.ID)
	}
	return nil
}

func (s *BadgeContract) isPaused(ctx contractapi.TransactionContextInterface) (bool, error) {
	raw, err := ctx.GetStub().GetState(pausedKey)
	if err != nil {
		return false, fmt.Errorf("failed to read pause state: %v", err)
	}
	return string(raw) == "true", nil
}

// createType allocates the next id in the category and stores the type
// record. Callers have already authorized and parsed the category.
func (s *BadgeContract) createType(stub shim.ChaincodeStubInterface, issuer, name string, cat Category, maxSupply uint64, transferable bool, metadataRef string) (*BadgeType, error) {
	counter, err := getUint(stub, counterKey(cat))
	if err != nil {
		return nil, err
	}
	id := categoryBases[cat] + counter
	if err := putUint(stub, counterKey(cat), counter+1); err != nil {
		return nil, err
	}

	bt := &BadgeType{
		ID:           id,
		Name:         name,
		Category:     cat,
		MaxSupply:    maxSupply,
		Transferable: transferable,
		ValidUntil:   0,
		Issuer:       issuer,
	}
	raw, _ := json.Marshal(bt)
	if err := stub.PutState(typeKey(id), raw); err != nil {
		return nil, err
	}

	if metadataRef != "" {
		if err := stub.PutState(metadataKey(id), []byte(metadataRef)); err != nil {
			return nil, err
		}
	}
	return bt, nil
}

// credit applies one issuance: balance and supply go up, the earned-at record
// is overwritten, and the type id enters the holder index if absent. Supply
// checks are the caller's job.
func (s *BadgeContract) credit(stub shim.ChaincodeStubInterface, typeID uint64, account string, amount uint64, now int64) error {
	bal, err := getUint(stub, balanceKey(account, typeID))
	if err != nil {
		return err
	}
	if err := putUint(stub, balanceKey(account, typeID), bal+amount); err != nil {
		return err
	}

	supply, err := getUint(stub, supplyKey(typeID))
	if err != nil {
		return err
	}
	if err := putUint(stub, supplyKey(typeID), supply+amount); err != nil {
		return err
	}

	if err := stub.PutState(earnedKey(typeID, account), []byte(strconv.FormatInt(now, 10))); err != nil {
		return err
	}

	return s.addToHolderIndex(stub, account, typeID)
}

func (s *BadgeContract) addToHolderIndex(stub shim.ChaincodeStubInterface, account string, typeID uint64) error {
	raw, err := stub.GetState(holderKey(account))
	if err != nil {
		return fmt.Errorf("failed to read holder index: %v", err)
	}
	var held []uint64
	if raw != nil {
		if err := json.Unmarshal(raw, &held); err != nil {
			return err
		}
	}
	for _, id := range held {
		if id == typeID {
			return nil
		}
	}
	held = append(held, typeID)
	updated, _ := json.Marshal(held)
	return stub.PutState(holderKey(account), updated)
}

func (s *BadgeContract) getBadgeType(stub shim.ChaincodeStubInterface, typeID uint64) (*BadgeType, error) {
	raw, err := stub.GetState(typeKey(typeID))
	if err != nil {
		return nil, fmt.Errorf("failed to read badge type: %v", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %d", ErrTypeNotFound, typeID)
	}
	var bt BadgeType
	if err := json.Unmarshal(raw, &bt); err != nil {
		return nil, err
	}
	return &bt, nil
}

func txTime(stub shim.ChaincodeStubInterface) (int64, error) {
	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return 0, fmt.Errorf("failed to get tx timestamp: %v", err)
	}
	return ts.GetSeconds(), nil
}

func getUint(stub shim.ChaincodeStubInterface, key string) (uint64, error) {
	raw, err := stub.GetState(key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %v", key, err)
	}
	if raw == nil {
		return 0, nil
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

func putUint(stub shim.ChaincodeStubInterface, key string, v uint64) error {
	return stub.PutState(key, []byte(strconv.FormatUint(v, 10)))
}

func getInt(stub shim.ChaincodeStubInterface, key string) (int64, error) {
	raw, err := stub.GetState(key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %v", key, err)
	}
	if raw == nil {
		return 0, nil
	}
	return strconv.ParseInt(string(raw), 10, 64)
}
