package domaingraph

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/heal"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/store"
	"github.com/roach88/namegraph/internal/testutil"
)

var (
	ownerA = testutil.Addr(0xa)
	ownerB = testutil.Addr(0xb)
	resolv = testutil.Addr(0x5e)
	eth    = ident.NameHash("eth")
	alice  = ident.NameHash("alice.eth")
)

type fixture struct {
	ctx   context.Context
	db    *store.DB
	m     *Maintainer
	chain *testutil.Chain
}

func setup(t *testing.T, healer heal.Healer) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		db:    testutil.OpenStore(t),
		chain: testutil.NewChain(1, ident.Scheme{}),
	}
	f.m = New(f.db, healer, nil)
	require.NoError(t, f.m.EnsureRoot(f.ctx))
	return f
}

func (f *fixture) domain(t *testing.T, node common.Hash) (entity.Domain, bool) {
	t.Helper()
	d, ok, err := f.m.Domain(f.ctx, node)
	require.NoError(t, err)
	return d, ok
}

// buildAlice creates root -> eth (owner A) -> alice.eth (owner B).
func (f *fixture) buildAlice(t *testing.T) {
	t.Helper()
	require.NoError(t, f.m.SetOwner(f.ctx, f.chain.Next(), ident.RootNode, ident.LabelHash("eth"), ownerA, true))
	require.NoError(t, f.m.SetOwner(f.ctx, f.chain.Next(), eth, ident.LabelHash("alice"), ownerB, true))
}

func TestEnsureRoot_Idempotent(t *testing.T) {
	f := setup(t, nil)
	require.NoError(t, f.m.EnsureRoot(f.ctx))

	root, ok := f.domain(t, ident.RootNode)
	require.True(t, ok)
	assert.Equal(t, ident.AddressID(ident.ZeroAddress), root.OwnerID)
	assert.Nil(t, root.ParentID)
	assert.Equal(t, int64(0), root.SubdomainCount)
}

func TestSetOwner_FirstSightLinksAndCounts(t *testing.T) {
	f := setup(t, heal.NewStatic("eth", "alice"))
	f.buildAlice(t)

	root, _ := f.domain(t, ident.RootNode)
	assert.Equal(t, int64(1), root.SubdomainCount)

	e, ok := f.domain(t, eth)
	require.True(t, ok)
	assert.Equal(t, int64(1), e.SubdomainCount)
	require.NotNil(t, e.Name)
	assert.Equal(t, "eth", *e.Name)

	a, ok := f.domain(t, alice)
	require.True(t, ok)
	assert.Equal(t, ident.AddressID(ownerB), a.OwnerID)
	assert.Equal(t, ident.HashID(eth), *a.ParentID)
	assert.Equal(t, "alice.eth", *a.Name)
	assert.Equal(t, "alice", *a.LabelName)
	assert.True(t, a.IsMigrated)
}

func TestSetOwner_SubsequentSightDoesNotRecount(t *testing.T) {
	f := setup(t, nil)
	f.buildAlice(t)

	require.NoError(t, f.m.SetOwner(f.ctx, f.chain.Next(), eth, ident.LabelHash("alice"), ownerA, true))

	e, _ := f.domain(t, eth)
	assert.Equal(t, int64(1), e.SubdomainCount)
	a, _ := f.domain(t, alice)
	assert.Equal(t, ident.AddressID(ownerA), a.OwnerID)
}

func TestSetOwner_ReplayIsIdempotent(t *testing.T) {
	f := setup(t, heal.NewStatic("eth"))
	m1 := f.chain.Next()
	m2 := f.chain.Next()

	apply := func() {
		require.NoError(t, f.m.SetOwner(f.ctx, m1, ident.RootNode, ident.LabelHash("eth"), ownerA, true))
		require.NoError(t, f.m.SetOwner(f.ctx, m2, eth, ident.LabelHash("alice"), ownerB, true))
	}
	apply()
	before := dump(t, f)
	apply()
	assert.Equal(t, before, dump(t, f))
}

func TestSetOwner_UnknownLabelLeavesNameUnset(t *testing.T) {
	f := setup(t, nil)
	f.buildAlice(t)

	a, _ := f.domain(t, alice)
	assert.Nil(t, a.Name)
	assert.Nil(t, a.LabelName)
	assert.Equal(t, ident.HashID(ident.LabelHash("alice")), *a.LabelHash)
}

func TestSetOwner_HealingFailureWritesNothing(t *testing.T) {
	boom := errors.New("rainbow down")
	f := setup(t, heal.Func(func(context.Context, common.Hash) (string, bool, error) {
		return "", false, boom
	}))

	err := f.m.SetOwner(f.ctx, f.chain.Next(), ident.RootNode, ident.LabelHash("eth"), ownerA, true)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, heal.ErrHealing)

	_, ok := f.domain(t, eth)
	assert.False(t, ok)
	root, _ := f.domain(t, ident.RootNode)
	assert.Equal(t, int64(0), root.SubdomainCount)
}

func TestSetOwner_UnindexableLabelIgnored(t *testing.T) {
	f := setup(t, heal.Func(func(context.Context, common.Hash) (string, bool, error) {
		return "bad.label", true, nil
	}))
	require.NoError(t, f.m.SetOwner(f.ctx, f.chain.Next(), ident.RootNode, ident.LabelHash("bad.label"), ownerA, false))

	d, ok := f.domain(t, ident.Node(ident.RootNode, ident.LabelHash("bad.label")))
	require.True(t, ok)
	assert.Nil(t, d.LabelName)
	assert.Nil(t, d.Name)
}

func TestGarbageCollect_ZeroingOwnerPrunesLeaf(t *testing.T) {
	f := setup(t, nil)
	f.buildAlice(t)

	e, _ := f.domain(t, eth)
	require.Equal(t, int64(1), e.SubdomainCount)

	require.NoError(t, f.m.Transfer(f.ctx, f.chain.Next(), alice, ident.ZeroAddress))

	_, ok := f.domain(t, alice)
	assert.False(t, ok, "empty alice.eth is deleted")

	e, ok = f.domain(t, eth)
	require.True(t, ok, "eth keeps its non-zero owner")
	assert.Equal(t, int64(0), e.SubdomainCount)
}

func TestGarbageCollect_RecursesThroughEmptyAncestors(t *testing.T) {
	f := setup(t, nil)
	f.buildAlice(t)

	// eth is emptied of its owner first; it survives because of alice.
	require.NoError(t, f.m.Transfer(f.ctx, f.chain.Next(), eth, ident.ZeroAddress))
	_, ok := f.domain(t, eth)
	require.True(t, ok)

	require.NoError(t, f.m.Transfer(f.ctx, f.chain.Next(), alice, ident.ZeroAddress))

	_, ok = f.domain(t, alice)
	assert.False(t, ok)
	_, ok = f.domain(t, eth)
	assert.False(t, ok)

	root, ok := f.domain(t, ident.RootNode)
	require.True(t, ok, "root is never collected")
	assert.Equal(t, int64(0), root.SubdomainCount)
}

func TestSetOwner_ParentAfterChildCountsIt(t *testing.T) {
	f := setup(t, nil)

	// alice.eth is linked to eth before eth itself exists.
	require.NoError(t, f.m.SetOwner(f.ctx, f.chain.Next(), eth, ident.LabelHash("alice"), ownerB, true))
	require.NoError(t, f.m.SetOwner(f.ctx, f.chain.Next(), ident.RootNode, ident.LabelHash("eth"), ownerA, true))

	e, ok := f.domain(t, eth)
	require.True(t, ok)
	assert.Equal(t, int64(1), e.SubdomainCount)

	require.NoError(t, f.m.SetOwner(f.ctx, f.chain.Next(), eth, ident.LabelHash("bob"), ownerB, true))
	e, _ = f.domain(t, eth)
	assert.Equal(t, int64(2), e.SubdomainCount)

	require.NoError(t, f.m.Transfer(f.ctx, f.chain.Next(), alice, ident.ZeroAddress))
	_, ok = f.domain(t, alice)
	require.False(t, ok)

	e, _ = f.domain(t, eth)
	children, err := f.db.Children(f.ctx, ident.HashID(eth))
	require.NoError(t, err)
	assert.Len(t, children, 1)
	assert.Equal(t, int64(1), e.SubdomainCount)
}

func TestGarbageCollect_ResolverKeepsDomain(t *testing.T) {
	f := setup(t, nil)
	f.buildAlice(t)
	require.NoError(t, f.m.SetResolver(f.ctx, f.chain.Next(), alice, resolv))

	require.NoError(t, f.m.Transfer(f.ctx, f.chain.Next(), alice, ident.ZeroAddress))
	a, ok := f.domain(t, alice)
	require.True(t, ok)
	assert.Equal(t, ident.ResolverID(resolv, alice), *a.ResolverID)

	require.NoError(t, f.m.SetResolver(f.ctx, f.chain.Next(), alice, ident.ZeroAddress))
	_, ok = f.domain(t, alice)
	assert.False(t, ok, "clearing the last resolver collects the domain")
}

func TestSetOwner_ZeroOwnerOnNewNodeIsCollected(t *testing.T) {
	f := setup(t, nil)
	require.NoError(t, f.m.SetOwner(f.ctx, f.chain.Next(), ident.RootNode, ident.LabelHash("eth"), ownerA, true))

	m := f.chain.Next()
	for i := 0; i < 2; i++ {
		require.NoError(t, f.m.SetOwner(f.ctx, m, eth, ident.LabelHash("ghost"), ident.ZeroAddress, true))
		e, _ := f.domain(t, eth)
		assert.Equal(t, int64(0), e.SubdomainCount)
		_, ok := f.domain(t, ident.NameHash("ghost.eth"))
		assert.False(t, ok)
	}
}

func TestTransfer_AbsentDomain(t *testing.T) {
	f := setup(t, nil)

	require.NoError(t, f.m.Transfer(f.ctx, f.chain.Next(), alice, ident.ZeroAddress))

	err := f.m.Transfer(f.ctx, f.chain.Next(), alice, ownerA)
	require.ErrorIs(t, err, entity.ErrInvariant)
}

func TestSetResolver_AbsentDomain(t *testing.T) {
	f := setup(t, nil)

	require.NoError(t, f.m.SetResolver(f.ctx, f.chain.Next(), alice, ident.ZeroAddress))
	err := f.m.SetResolver(f.ctx, f.chain.Next(), alice, resolv)
	require.ErrorIs(t, err, entity.ErrInvariant)
}

func TestSetResolver_PicksUpExistingAddress(t *testing.T) {
	f := setup(t, nil)
	f.buildAlice(t)

	addr := ident.AddressID(ownerB)
	require.NoError(t, f.db.UpsertIgnore(f.ctx, entity.Resolver{
		ID: ident.ResolverID(resolv, alice), DomainID: ident.HashID(alice), Address: ident.AddressID(resolv), AddrID: &addr,
	}))
	require.NoError(t, f.m.SetResolver(f.ctx, f.chain.Next(), alice, resolv))

	a, _ := f.domain(t, alice)
	require.NotNil(t, a.ResolvedAddressID)
	assert.Equal(t, addr, *a.ResolvedAddressID)
}

func TestSetTTL(t *testing.T) {
	f := setup(t, nil)
	require.NoError(t, f.m.SetTTL(f.ctx, f.chain.Next(), alice, 60), "absent domain is a no-op")

	f.buildAlice(t)
	require.NoError(t, f.m.SetTTL(f.ctx, f.chain.Next(), alice, 60))
	a, _ := f.domain(t, alice)
	require.NotNil(t, a.TTL)
	assert.Equal(t, uint64(60), *a.TTL)
}

func TestOperations_RecordAuditLog(t *testing.T) {
	f := setup(t, nil)
	f.buildAlice(t)
	require.NoError(t, f.m.SetTTL(f.ctx, f.chain.Next(), alice, 60))

	events, err := f.db.EventsFor(f.ctx, ident.HashID(alice))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "NewOwner", events[0].Name)
	assert.Equal(t, "NewTTL", events[1].Name)
	assert.Contains(t, events[1].Args, `"ttl":60`)
}

func dump(t *testing.T, f *fixture) map[entity.Kind][]entity.Row {
	t.Helper()
	out := map[entity.Kind][]entity.Row{}
	for _, k := range entity.Kinds {
		rows, err := f.db.All(f.ctx, k)
		require.NoError(t, err)
		out[k] = rows
	}
	return out
}
