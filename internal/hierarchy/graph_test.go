package hierarchy

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/store"
	"github.com/roach88/namegraph/internal/testutil"
)

const chainID = 1

var (
	root     = testutil.Addr(0x1000)
	subA     = testutil.Addr(0x2000)
	subB     = testutil.Addr(0x3000)
	resolver = testutil.Addr(0x4000)
	holder   = testutil.Addr(0x5000)

	ethToken = ident.TokenIDFromHash(ident.LabelHash("eth"))
	comToken = ident.TokenIDFromHash(ident.LabelHash("com"))
)

func newGraph(t *testing.T) (*store.DB, *Graph, *testutil.Chain) {
	t.Helper()
	db := testutil.OpenStore(t)
	return db, New(db, nil), testutil.NewChain(chainID, ident.Scheme{})
}

func labelID(registry common.Address, token *big.Int) string {
	return ident.LabelID(ident.RegistryID(chainID, registry), token)
}

func withFlags(token *big.Int, flags uint64) *big.Int {
	return new(big.Int).Or(ident.MaskTokenID(token), new(big.Int).SetUint64(flags))
}

func TestSubregistryUpdate_BindsBothWays(t *testing.T) {
	ctx := context.Background()
	_, g, chain := newGraph(t)

	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, ethToken, subA, 0))

	l, ok, err := g.Label(ctx, chainID, root, ethToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ident.RegistryID(chainID, subA), *l.SubregistryID)
	assert.Equal(t, ident.MaskTokenID(ethToken).String(), l.TokenID)

	sub, ok, err := g.Registry(ctx, chainID, subA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, l.ID, *sub.LabelID)

	known, err := g.IsKnownRegistry(ctx, chainID, subA)
	require.NoError(t, err)
	assert.True(t, known)
	known, err = g.IsKnownRegistry(ctx, chainID, subB)
	require.NoError(t, err)
	assert.False(t, known)
}

func TestSubregistryUpdate_FirstWriteWins(t *testing.T) {
	ctx := context.Background()
	_, g, chain := newGraph(t)

	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, ethToken, subA, 0))
	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, comToken, subA, 0))

	sub, _, err := g.Registry(ctx, chainID, subA)
	require.NoError(t, err)
	assert.Equal(t, labelID(root, ethToken), *sub.LabelID)

	l2, _, err := g.Label(ctx, chainID, root, comToken)
	require.NoError(t, err)
	assert.Nil(t, l2.SubregistryID)
}

func TestSubregistryUpdate_RebindReleasesPrevious(t *testing.T) {
	ctx := context.Background()
	_, g, chain := newGraph(t)

	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, ethToken, subA, 0))
	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, ethToken, subB, 0))

	a, _, err := g.Registry(ctx, chainID, subA)
	require.NoError(t, err)
	assert.Nil(t, a.LabelID)

	b, _, err := g.Registry(ctx, chainID, subB)
	require.NoError(t, err)
	assert.Equal(t, labelID(root, ethToken), *b.LabelID)

	// The released registry can now be bound elsewhere.
	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, comToken, subA, 0))
	a, _, err = g.Registry(ctx, chainID, subA)
	require.NoError(t, err)
	assert.Equal(t, labelID(root, comToken), *a.LabelID)
}

func TestSubregistryUpdate_ZeroClears(t *testing.T) {
	ctx := context.Background()
	_, g, chain := newGraph(t)

	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, ethToken, subA, 0))
	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, ethToken, ident.ZeroAddress, 0))

	l, _, err := g.Label(ctx, chainID, root, ethToken)
	require.NoError(t, err)
	assert.Nil(t, l.SubregistryID)

	sub, _, err := g.Registry(ctx, chainID, subA)
	require.NoError(t, err)
	assert.Nil(t, sub.LabelID)
}

func TestTokenFlagsAreMasked(t *testing.T) {
	ctx := context.Background()
	_, g, chain := newGraph(t)

	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, withFlags(ethToken, 0x1), subA, 0))
	require.NoError(t, g.ResolverUpdate(ctx, chain.Next(), root, withFlags(ethToken, 0xffff), resolver, 0))

	l, ok, err := g.Label(ctx, chainID, root, ethToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, l.SubregistryID)
	assert.NotNil(t, l.ResolverID)
}

func TestResolverUpdate_EnsuresResolverAndClears(t *testing.T) {
	ctx := context.Background()
	db, g, chain := newGraph(t)

	require.NoError(t, g.ResolverUpdate(ctx, chain.Next(), root, ethToken, resolver, 0))

	resID := ident.V2ResolverID(chainID, resolver)
	_, ok, err := store.Get[entity.V2Resolver](ctx, db, resID)
	require.NoError(t, err)
	assert.True(t, ok)

	l, _, err := g.Label(ctx, chainID, root, ethToken)
	require.NoError(t, err)
	assert.Equal(t, resID, *l.ResolverID)

	require.NoError(t, g.ResolverUpdate(ctx, chain.Next(), root, ethToken, ident.ZeroAddress, 0))
	l, _, err = g.Label(ctx, chainID, root, ethToken)
	require.NoError(t, err)
	assert.Nil(t, l.ResolverID)
}

func TestSubregistryAndResolverOrderTolerance(t *testing.T) {
	ctx := context.Background()

	apply := func(subFirst bool) entity.Label {
		_, g, chain := newGraph(t)
		sub := func() { require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, ethToken, subA, 0)) }
		res := func() { require.NoError(t, g.ResolverUpdate(ctx, chain.Next(), root, ethToken, resolver, 0)) }
		if subFirst {
			sub()
			res()
		} else {
			res()
			sub()
		}
		l, ok, err := g.Label(ctx, chainID, root, ethToken)
		require.NoError(t, err)
		require.True(t, ok)
		return l
	}

	assert.Equal(t, apply(true), apply(false))
}

type update struct {
	Label  int
	Target int
}

func (u update) token() *big.Int {
	return ident.TokenIDFromHash(ident.LabelHash(string(rune('a' + u.Label))))
}

func (u update) address(base uint16) common.Address {
	if u.Target == 0 {
		return ident.ZeroAddress
	}
	return testutil.Addr(base + uint16(u.Target))
}

func genUpdate() *rapid.Generator[update] {
	return rapid.Custom(func(r *rapid.T) update {
		return update{
			Label:  rapid.IntRange(0, 2).Draw(r, "label"),
			Target: rapid.IntRange(0, 3).Draw(r, "target"),
		}
	})
}

// Interleaving the two update families differently, while keeping each
// family in order, yields the same labels and registries.
func TestOrderTolerance_Property(t *testing.T) {
	ctx := context.Background()
	rapid.Check(t, func(r *rapid.T) {
		subs := rapid.SliceOfN(genUpdate(), 0, 6).Draw(r, "subs")
		ress := rapid.SliceOfN(genUpdate(), 0, 6).Draw(r, "resolvers")
		n := len(subs) + len(ress)

		run := func(picks []bool) ([]entity.Row, []entity.Row) {
			db, g, chain := newGraph(t)
			i, j := 0, 0
			for k := 0; k < n; k++ {
				if (picks[k] && i < len(subs)) || j == len(ress) {
					u := subs[i]
					i++
					if err := g.SubregistryUpdate(ctx, chain.Next(), root, u.token(), u.address(0x2000), 0); err != nil {
						r.Fatalf("subregistry update: %v", err)
					}
					continue
				}
				u := ress[j]
				j++
				if err := g.ResolverUpdate(ctx, chain.Next(), root, u.token(), u.address(0x4000), 0); err != nil {
					r.Fatalf("resolver update: %v", err)
				}
			}
			labels, err := db.All(ctx, entity.KindLabel)
			if err != nil {
				r.Fatalf("labels: %v", err)
			}
			registries, err := db.All(ctx, entity.KindRegistry)
			if err != nil {
				r.Fatalf("registries: %v", err)
			}
			return labels, registries
		}

		labelsA, registriesA := run(rapid.SliceOfN(rapid.Bool(), n, n).Draw(r, "orderA"))
		labelsB, registriesB := run(rapid.SliceOfN(rapid.Bool(), n, n).Draw(r, "orderB"))
		assert.Equal(r, labelsA, labelsB)
		assert.Equal(r, registriesA, registriesB)
	})
}

func TestTransfer_MintAndMove(t *testing.T) {
	ctx := context.Background()
	db, g, chain := newGraph(t)

	mint := TokenTransfer{Registry: root, From: ident.ZeroAddress, To: holder, TokenID: withFlags(ethToken, 7), Value: big.NewInt(1)}
	require.NoError(t, g.Transfer(ctx, chain.Next(), mint))

	id := labelID(root, ethToken)
	d, ok, err := store.Get[entity.V2Domain](ctx, db, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ident.AddressID(holder), d.OwnerID)
	assert.Equal(t, id, d.LabelID)

	_, ok, err = g.Label(ctx, chainID, root, ethToken)
	require.NoError(t, err)
	assert.True(t, ok, "label ensured before the domain references it")

	move := TokenTransfer{Registry: root, From: holder, To: testutil.Addr(0x6000), TokenID: ethToken, Value: big.NewInt(1)}
	require.NoError(t, g.Transfer(ctx, chain.Next(), move))
	d, _, err = store.Get[entity.V2Domain](ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, ident.AddressID(testutil.Addr(0x6000)), d.OwnerID)
}

func TestTransfer_BurnDeletesAndReleases(t *testing.T) {
	ctx := context.Background()
	db, g, chain := newGraph(t)

	require.NoError(t, g.Transfer(ctx, chain.Next(), TokenTransfer{Registry: root, To: holder, TokenID: ethToken}))
	require.NoError(t, g.SubregistryUpdate(ctx, chain.Next(), root, ethToken, subA, 0))
	require.NoError(t, g.Transfer(ctx, chain.Next(), TokenTransfer{Registry: root, From: holder, To: ident.ZeroAddress, TokenID: ethToken}))

	_, ok, err := store.Get[entity.V2Domain](ctx, db, labelID(root, ethToken))
	require.NoError(t, err)
	assert.False(t, ok)

	sub, _, err := g.Registry(ctx, chainID, subA)
	require.NoError(t, err)
	assert.Nil(t, sub.LabelID)

	// Replaying the burn is harmless.
	require.NoError(t, g.Transfer(ctx, chain.Next(), TokenTransfer{Registry: root, From: holder, To: ident.ZeroAddress, TokenID: ethToken}))
}

func TestTransfer_BatchUsesTransferIndex(t *testing.T) {
	ctx := context.Background()
	db, g, _ := newGraph(t)
	scheme := ident.Scheme{Prefix: "v2"}

	tokens := []*big.Int{ethToken, comToken}
	for i, tok := range tokens {
		meta := entity.Meta{EventID: scheme.EventID(10, 3, i), ChainID: chainID, BlockNumber: 10}
		require.NoError(t, g.Transfer(ctx, meta, TokenTransfer{Event: "TransferBatch", Registry: root, To: holder, TokenID: tok}))
	}

	for i, tok := range tokens {
		events, err := db.EventsFor(ctx, labelID(root, tok))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, scheme.EventID(10, 3, i), events[0].ID)
		assert.Equal(t, "TransferBatch", events[0].Name)
	}
}

func TestSetLabelName(t *testing.T) {
	ctx := context.Background()
	_, g, chain := newGraph(t)

	require.NoError(t, g.SetLabelName(ctx, chain.Next(), root, withFlags(ethToken, 2), "eth"))
	l, ok, err := g.Label(ctx, chainID, root, ethToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "eth", *l.LabelName)

	require.NoError(t, g.SetLabelName(ctx, chain.Next(), root, comToken, "not.indexable"))
	require.NoError(t, g.SetLabelName(ctx, chain.Next(), root, comToken, "org"))
	_, ok, err = g.Label(ctx, chainID, root, comToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, g, chain := newGraph(t)

	metas := []entity.Meta{chain.Next(), chain.Next(), chain.Next()}
	apply := func() {
		require.NoError(t, g.SubregistryUpdate(ctx, metas[0], root, ethToken, subA, 0))
		require.NoError(t, g.ResolverUpdate(ctx, metas[1], root, ethToken, resolver, 0))
		require.NoError(t, g.Transfer(ctx, metas[2], TokenTransfer{Registry: root, To: holder, TokenID: ethToken}))
	}

	dump := func() map[entity.Kind][]entity.Row {
		out := map[entity.Kind][]entity.Row{}
		for _, k := range entity.Kinds {
			rows, err := db.All(ctx, k)
			require.NoError(t, err)
			out[k] = rows
		}
		return out
	}

	apply()
	first := dump()
	apply()
	assert.Equal(t, first, dump())
}
