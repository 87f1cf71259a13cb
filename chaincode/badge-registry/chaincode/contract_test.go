package chaincode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestRegistry boots a contract with "admin" holding all capabilities.
func newTestRegistry(t *testing.T) (*BadgeContract, *mockStub, *mockContext) {
	t.Helper()
	contract := &BadgeContract{}
	stub := newMockStub()
	admin := callerCtx(stub, "admin")
	require.NoError(t, contract.InitLedger(admin))
	return contract, stub, admin
}

func TestCategoryBaseAllocation(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Cert A", "Certificate", 0, false, "u")
	require.NoError(t, err)
	require.Equal(t, uint64(1000), id)

	id, err = contract.CreateBadgeType(admin, "Cert B", "Certificate", 0, false, "")
	require.NoError(t, err)
	require.Equal(t, uint64(1001), id)

	id, err = contract.CreateBadgeType(admin, "Meetup", "Event", 0, true, "")
	require.NoError(t, err)
	require.Equal(t, uint64(2000), id)

	id, err = contract.GrantSpecialAchievement(admin, "alice", "First Steps", 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3000), id)

	ids, err := contract.CreateWorkshopSeries(admin, "Basics", 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{4000}, ids)

	// A third certificate continues its own counter, untouched by the other
	// categories.
	id, err = contract.CreateBadgeType(admin, "Cert C", "Certificate", 0, false, "")
	require.NoError(t, err)
	require.Equal(t, uint64(1002), id)
}

func TestCreateBadgeTypeInvalidCategory(t *testing.T) {
	contract, stub, admin := newTestRegistry(t)
	before := stub.snapshot()

	_, err := contract.CreateBadgeType(admin, "Diploma", "Diploma", 0, false, "")
	require.ErrorIs(t, err, ErrInvalidCategory)
	require.Equal(t, before, stub.snapshot())
}

func TestRepeatIssuanceKeepsIndexDistinct(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Cert A", "Certificate", 0, false, "")
	require.NoError(t, err)

	require.NoError(t, contract.IssueBadge(admin, "alice", id))
	require.NoError(t, contract.IssueBadge(admin, "alice", id))

	bal, err := contract.BalanceOf(admin, "alice", id)
	require.NoError(t, err)
	require.Equal(t, uint64(2), bal)

	held, err := contract.TokensHeldBy(admin, "alice")
	require.NoError(t, err)
	require.Equal(t, []uint64{1000}, held)
}

func TestIssueSingleSupplyCap(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Limited", "Event", 2, true, "")
	require.NoError(t, err)

	require.NoError(t, contract.IssueBadge(admin, "alice", id))
	require.NoError(t, contract.IssueBadge(admin, "bob", id))

	err = contract.IssueBadge(admin, "carol", id)
	require.ErrorIs(t, err, ErrSupplyExhausted)

	supply, err := contract.CurrentSupply(admin, id)
	require.NoError(t, err)
	require.Equal(t, uint64(2), supply)

	bal, err := contract.BalanceOf(admin, "carol", id)
	require.NoError(t, err)
	require.Zero(t, bal)
}

func TestIssueUnknownType(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	err := contract.IssueBadge(admin, "alice", 1000)
	require.ErrorIs(t, err, ErrTypeNotFound)

	err = contract.IssueBatch(admin, []string{"alice"}, 1000, 1)
	require.ErrorIs(t, err, ErrTypeNotFound)
}

func TestIssueBatchAllOrNothing(t *testing.T) {
	contract, stub, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Attendance", "Event", 10, true, "")
	require.NoError(t, err)
	require.NoError(t, contract.IssueBadge(admin, "zara", id))

	before := stub.snapshot()
	err = contract.IssueBatch(admin, []string{"a", "b", "c", "d"}, id, 3)
	require.ErrorIs(t, err, ErrSupplyExhausted)
	require.Equal(t, before, stub.snapshot())

	require.NoError(t, contract.IssueBatch(admin, []string{"a", "b", "c"}, id, 3))

	supply, err := contract.CurrentSupply(admin, id)
	require.NoError(t, err)
	require.Equal(t, uint64(10), supply)

	for _, account := range []string{"a", "b", "c"} {
		bal, err := contract.BalanceOf(admin, account, id)
		require.NoError(t, err)
		require.Equal(t, uint64(3), bal)

		held, err := contract.TokensHeldBy(admin, account)
		require.NoError(t, err)
		require.Equal(t, []uint64{id}, held)
	}
}

func TestIssueBatchHugeAmountStillCapped(t *testing.T) {
	contract, stub, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Limited", "Event", 2, true, "")
	require.NoError(t, err)

	// Amounts large enough to wrap the projected-supply product must still
	// fail the cap check, not slip under it.
	before := stub.snapshot()
	err = contract.IssueBatch(admin, []string{"alice", "bob"}, id, 1<<63)
	require.ErrorIs(t, err, ErrSupplyExhausted)
	require.Equal(t, before, stub.snapshot())

	err = contract.IssueBatch(admin, []string{"alice"}, id, ^uint64(0))
	require.ErrorIs(t, err, ErrSupplyExhausted)

	supply, err := contract.CurrentSupply(admin, id)
	require.NoError(t, err)
	require.Zero(t, supply)
}

func TestAchievementRarityTiers(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	cases := []struct {
		tier   uint64
		supply uint64
	}{
		{1, 1},
		{5, 10},
		{50, 100},
	}
	for _, tc := range cases {
		id, err := contract.GrantSpecialAchievement(admin, "alice", "X", tc.tier)
		require.NoError(t, err)

		bt, err := contract.GetBadgeType(admin, id)
		require.NoError(t, err)
		require.Equal(t, tc.supply, bt.MaxSupply)
		require.False(t, bt.Transferable)
		require.Equal(t, CategoryAchievement, bt.Category)

		bal, err := contract.BalanceOf(admin, "alice", id)
		require.NoError(t, err)
		require.Equal(t, uint64(1), bal)
	}

	// The legendary achievement is fully issued at creation.
	err := contract.IssueBadge(admin, "bob", 3000)
	require.ErrorIs(t, err, ErrSupplyExhausted)
}

func TestWorkshopSeries(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	ids, err := contract.CreateWorkshopSeries(admin, "Basics", 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{4000, 4001, 4002}, ids)

	names := []string{"Basics - Session 1", "Basics - Session 2", "Basics - Session 3"}
	for i, id := range ids {
		bt, err := contract.GetBadgeType(admin, id)
		require.NoError(t, err)
		require.Equal(t, names[i], bt.Name)
		require.Equal(t, CategoryWorkshop, bt.Category)
		require.Zero(t, bt.MaxSupply)
		require.True(t, bt.Transferable)
	}

	_, err = contract.CreateWorkshopSeries(admin, "Empty", 0)
	require.Error(t, err)
}

func TestPauseBlocksIssuance(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Cert A", "Certificate", 0, false, "")
	require.NoError(t, err)

	require.NoError(t, contract.Pause(admin))

	err = contract.IssueBadge(admin, "alice", id)
	require.ErrorIs(t, err, ErrSystemPaused)

	err = contract.IssueBatch(admin, []string{"alice"}, id, 1)
	require.ErrorIs(t, err, ErrSystemPaused)

	_, err = contract.GrantSpecialAchievement(admin, "alice", "X", 1)
	require.ErrorIs(t, err, ErrSystemPaused)

	err = contract.BurnBadge(admin, "alice", id, 1)
	require.ErrorIs(t, err, ErrSystemPaused)

	require.NoError(t, contract.Unpause(admin))
	require.NoError(t, contract.IssueBadge(admin, "alice", id))
}

func TestTransferPolicy(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	soulbound, err := contract.GrantSpecialAchievement(admin, "alice", "X", 2)
	require.NoError(t, err)
	open, err := contract.CreateBadgeType(admin, "Ticket", "Event", 0, true, "")
	require.NoError(t, err)
	require.NoError(t, contract.IssueBadge(admin, "alice", open))
	require.NoError(t, contract.IssueBadge(admin, "alice", open))

	// Soulbound types never move, paused or not.
	err = contract.TransferBadge(admin, "alice", "bob", soulbound, 1)
	require.ErrorIs(t, err, ErrTransferDisabled)
	require.NoError(t, contract.Pause(admin))
	err = contract.TransferBadge(admin, "alice", "bob", soulbound, 1)
	require.ErrorIs(t, err, ErrSystemPaused)

	// Transferable types move only while active.
	err = contract.TransferBadge(admin, "alice", "bob", open, 1)
	require.ErrorIs(t, err, ErrSystemPaused)
	require.NoError(t, contract.Unpause(admin))
	require.NoError(t, contract.TransferBadge(admin, "alice", "bob", open, 1))

	aliceBal, err := contract.BalanceOf(admin, "alice", open)
	require.NoError(t, err)
	require.Equal(t, uint64(1), aliceBal)
	bobBal, err := contract.BalanceOf(admin, "bob", open)
	require.NoError(t, err)
	require.Equal(t, uint64(1), bobBal)

	// Transfers do not count as issuance: bob's holder index stays empty and
	// the supply is unchanged.
	held, err := contract.TokensHeldBy(admin, "bob")
	require.NoError(t, err)
	require.Empty(t, held)
	supply, err := contract.CurrentSupply(admin, open)
	require.NoError(t, err)
	require.Equal(t, uint64(2), supply)

	err = contract.TransferBadge(admin, "bob", "alice", open, 5)
	require.Error(t, err)
}

func TestSelfTransferConservesBalance(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Ticket", "Event", 0, true, "")
	require.NoError(t, err)
	require.NoError(t, contract.IssueBadge(admin, "alice", id))

	// A transfer to oneself must not create units.
	require.NoError(t, contract.TransferBadge(admin, "alice", "alice", id, 1))

	bal, err := contract.BalanceOf(admin, "alice", id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), bal)
	supply, err := contract.CurrentSupply(admin, id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), supply)

	err = contract.TransferBadge(admin, "alice", "alice", id, 2)
	require.Error(t, err)
}

func TestBurnAccounting(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Cert A", "Certificate", 0, false, "")
	require.NoError(t, err)
	require.NoError(t, contract.IssueBadge(admin, "alice", id))
	require.NoError(t, contract.IssueBadge(admin, "alice", id))

	require.NoError(t, contract.BurnBadge(admin, "alice", id, 1))

	bal, err := contract.BalanceOf(admin, "alice", id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), bal)
	supply, err := contract.CurrentSupply(admin, id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), supply)

	// Burning to zero does not remove the id from the holder index.
	require.NoError(t, contract.BurnBadge(admin, "alice", id, 1))
	held, err := contract.TokensHeldBy(admin, "alice")
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, held)

	err = contract.BurnBadge(admin, "alice", id, 1)
	require.Error(t, err)
}

func TestVerifyBadge(t *testing.T) {
	contract, stub, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Cert A", "Certificate", 0, false, "")
	require.NoError(t, err)

	res, err := contract.VerifyBadge(admin, "alice", id)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Zero(t, res.EarnedAt)

	require.NoError(t, contract.IssueBadge(admin, "alice", id))
	res, err = contract.VerifyBadge(admin, "alice", id)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, stub.now, res.EarnedAt)

	// The earned-at record is overwritten on every issuance, not appended.
	stub.now += 3600
	require.NoError(t, contract.IssueBadge(admin, "alice", id))
	res, err = contract.VerifyBadge(admin, "alice", id)
	require.NoError(t, err)
	require.Equal(t, stub.now, res.EarnedAt)

	// Never-created type: invalid, no error.
	res, err = contract.VerifyBadge(admin, "alice", 9999)
	require.NoError(t, err)
	require.False(t, res.Valid)
}

func TestUnauthorizedLeavesStateUntouched(t *testing.T) {
	contract, stub, _ := newTestRegistry(t)
	mallory := callerCtx(stub, "mallory")
	before := stub.snapshot()

	_, err := contract.CreateBadgeType(mallory, "Cert", "Certificate", 0, false, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	err = contract.IssueBadge(mallory, "mallory", 1000)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = contract.Pause(mallory)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = contract.SetBadgeMetadata(mallory, 1000, "ipfs://x")
	require.ErrorIs(t, err, ErrUnauthorized)

	err = contract.GrantCapability(mallory, "Issuer", "mallory")
	require.ErrorIs(t, err, ErrUnauthorized)

	require.Equal(t, before, stub.snapshot())
}

func TestCapabilityGrantRevoke(t *testing.T) {
	contract, stub, admin := newTestRegistry(t)
	instructor := callerCtx(stub, "instructor")

	_, err := contract.CreateBadgeType(instructor, "Cert", "Certificate", 0, false, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, contract.GrantCapability(admin, "Issuer", "instructor"))
	// Idempotent re-grant.
	require.NoError(t, contract.GrantCapability(admin, "Issuer", "instructor"))

	held, err := contract.HasCapability(admin, "Issuer", "instructor")
	require.NoError(t, err)
	require.True(t, held)

	_, err = contract.CreateBadgeType(instructor, "Cert", "Certificate", 0, false, "")
	require.NoError(t, err)

	require.NoError(t, contract.RevokeCapability(admin, "Issuer", "instructor"))
	// Idempotent re-revoke.
	require.NoError(t, contract.RevokeCapability(admin, "Issuer", "instructor"))

	_, err = contract.CreateBadgeType(instructor, "Cert", "Certificate", 0, false, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = contract.HasCapability(admin, "Superuser", "instructor")
	require.Error(t, err)
}

func TestMetadataIsPermissive(t *testing.T) {
	contract, _, admin := newTestRegistry(t)

	// No existence check: references may be staged for ids never created.
	require.NoError(t, contract.SetBadgeMetadata(admin, 9999, "ipfs://staged"))

	ref, err := contract.GetBadgeMetadata(admin, 9999)
	require.NoError(t, err)
	require.Equal(t, "ipfs://staged", ref)

	ref, err = contract.GetBadgeMetadata(admin, 1234)
	require.NoError(t, err)
	require.Empty(t, ref)

	// createType stores the ref passed at creation.
	id, err := contract.CreateBadgeType(admin, "Cert", "Certificate", 0, false, "ipfs://cert")
	require.NoError(t, err)
	ref, err = contract.GetBadgeMetadata(admin, id)
	require.NoError(t, err)
	require.Equal(t, "ipfs://cert", ref)

	require.NoError(t, contract.SetBadgeMetadata(admin, id, "ipfs://v2"))
	ref, err = contract.GetBadgeMetadata(admin, id)
	require.NoError(t, err)
	require.Equal(t, "ipfs://v2", ref)
}

func TestIssuanceEvents(t *testing.T) {
	contract, stub, admin := newTestRegistry(t)

	id, err := contract.CreateBadgeType(admin, "Cert", "Certificate", 0, false, "")
	require.NoError(t, err)
	require.NoError(t, contract.IssueBadge(admin, "alice", id))
	require.NoError(t, contract.IssueBatch(admin, []string{"bob", "carol"}, id, 2))

	var names []string
	for _, e := range stub.events {
		names = append(names, e.name)
	}
	require.Equal(t, []string{"TypeCreated", "BadgeIssued", "BatchIssued"}, names)

	var batch BatchIssuedEvent
	require.NoError(t, json.Unmarshal(stub.events[2].payload, &batch))
	require.Equal(t, id, batch.ID)
	require.Equal(t, 2, batch.Count)
}
