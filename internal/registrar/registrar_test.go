package registrar

import (
	"context"
	"errors"
	"math"
	"math/big"
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

const expires = uint64(1_800_000_000)

var (
	registrant = testutil.Addr(0xa11)
	buyer      = testutil.Addr(0xb0b)
	aliceLabel = ident.LabelHash("alice")

	ethNS  = NewNamespace("eth", ident.Scheme{Canonical: true})
	baseNS = NewNamespace("base.eth", ident.Scheme{Prefix: "base"})
)

func newHandler(t *testing.T, db *store.DB, healer heal.Healer, ns Namespace) *Handler {
	t.Helper()
	return New(db, healer, ns, nil)
}

// linkDomain inserts the domain the registry's NewOwner creates before any
// registrar event for label.
func linkDomain(t *testing.T, db *store.DB, ns Namespace, label string) {
	t.Helper()
	labelHash := ident.LabelHash(label)
	parentID := ident.HashID(ns.Node)
	require.NoError(t, db.UpsertIgnore(context.Background(), entity.Domain{
		ID:        ident.HashID(ident.Node(ns.Node, labelHash)),
		ParentID:  &parentID,
		LabelHash: entity.Ptr(ident.HashID(labelHash)),
		OwnerID:   ident.AddressID(registrant),
	}))
}

func getDomain(t *testing.T, db *store.DB, node common.Hash) (entity.Domain, bool) {
	t.Helper()
	d, ok, err := store.Get[entity.Domain](context.Background(), db, ident.HashID(node))
	require.NoError(t, err)
	return d, ok
}

func TestRegister_CanonicalIDIsLabelHash(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	chain := testutil.NewChain(1, ident.Scheme{})
	h := newHandler(t, db, heal.NewStatic("alice"), ethNS)
	linkDomain(t, db, ethNS, "alice")

	require.NoError(t, h.Register(ctx, chain.Next(), aliceLabel, registrant, expires))

	reg, ok, err := store.Get[entity.Registration](ctx, db, ident.HashID(aliceLabel))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ident.HashID(ident.NameHash("alice.eth")), reg.DomainID)
	assert.Equal(t, ident.AddressID(registrant), reg.RegistrantID)
	assert.Equal(t, expires, reg.ExpiryDate)
	assert.Equal(t, "alice", *reg.LabelName)

	d, ok := getDomain(t, db, ident.NameHash("alice.eth"))
	require.True(t, ok)
	assert.Equal(t, "alice.eth", *d.Name)
	assert.Equal(t, expires+entity.GracePeriod, *d.ExpiryDate)
	assert.Equal(t, ident.AddressID(registrant), *d.RegistrantID)
}

func TestRegister_NamespacesCoexist(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	chain := testutil.NewChain(1, ident.Scheme{})
	linkDomain(t, db, ethNS, "alice")
	linkDomain(t, db, baseNS, "alice")

	require.NoError(t, newHandler(t, db, nil, ethNS).Register(ctx, chain.Next(), aliceLabel, registrant, expires))
	require.NoError(t, newHandler(t, db, nil, baseNS).Register(ctx, chain.Next(), aliceLabel, buyer, expires+1))

	canonical, ok, err := store.Get[entity.Registration](ctx, db, ident.HashID(aliceLabel))
	require.NoError(t, err)
	require.True(t, ok)

	baseNode := ident.NameHash("alice.base.eth")
	other, ok, err := store.Get[entity.Registration](ctx, db, ident.HashID(baseNode))
	require.NoError(t, err)
	require.True(t, ok)

	assert.NotEqual(t, canonical.ID, other.ID)
	assert.Equal(t, ident.AddressID(registrant), canonical.RegistrantID)
	assert.Equal(t, ident.AddressID(buyer), other.RegistrantID)
	assert.Equal(t, ident.HashID(baseNode), other.DomainID)
}

func TestRegister_UnknownLabelLeavesNamesUnset(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	h := newHandler(t, db, heal.None, ethNS)
	linkDomain(t, db, ethNS, "alice")

	require.NoError(t, h.Register(ctx, testutil.NewChain(1, ident.Scheme{}).Next(), aliceLabel, registrant, expires))

	reg, _, err := h.Registration(ctx, aliceLabel)
	require.NoError(t, err)
	assert.Nil(t, reg.LabelName)

	d, _ := getDomain(t, db, ident.NameHash("alice.eth"))
	assert.Nil(t, d.Name)
	assert.Nil(t, d.LabelName)
}

func TestRegister_UnindexableHealResultRejected(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	h := newHandler(t, db, heal.Func(func(context.Context, common.Hash) (string, bool, error) {
		return "[deadbeef]", true, nil
	}), ethNS)
	linkDomain(t, db, ethNS, "alice")

	require.NoError(t, h.Register(ctx, testutil.NewChain(1, ident.Scheme{}).Next(), aliceLabel, registrant, expires))
	reg, _, err := h.Registration(ctx, aliceLabel)
	require.NoError(t, err)
	assert.Nil(t, reg.LabelName)
}

func TestRegister_HealingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	boom := errors.New("rainbow unreachable")
	h := newHandler(t, db, heal.Func(func(context.Context, common.Hash) (string, bool, error) {
		return "", false, boom
	}), ethNS)
	linkDomain(t, db, ethNS, "alice")

	err := h.Register(ctx, testutil.NewChain(1, ident.Scheme{}).Next(), aliceLabel, registrant, expires)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, heal.ErrHealing)

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	for kind, n := range counts {
		if kind == entity.KindDomain {
			assert.Equal(t, int64(1), n)
			continue
		}
		assert.Zero(t, n, "no %s rows", kind)
	}
	d, _ := getDomain(t, db, ident.NameHash("alice.eth"))
	assert.Nil(t, d.RegistrantID)
	assert.Nil(t, d.ExpiryDate)
}

func TestRegisterPreimage_BothOrdersConverge(t *testing.T) {
	ctx := context.Background()
	owner := registrant
	exp := expires
	pre := Preimage{Name: "alice", LabelHash: aliceLabel, Cost: big.NewInt(5_000_000), Owner: &owner, Expires: &exp}

	run := func(preimageFirst bool) (entity.Registration, entity.Domain) {
		db := testutil.OpenStore(t)
		chain := testutil.NewChain(1, ident.Scheme{})
		h := newHandler(t, db, heal.None, ethNS)
		linkDomain(t, db, ethNS, "alice")
		regMeta, preMeta := chain.Next(), chain.Next()

		if preimageFirst {
			require.NoError(t, h.RegisterPreimage(ctx, preMeta, "NameRegistered", pre))
			require.NoError(t, h.Register(ctx, regMeta, aliceLabel, registrant, expires))
		} else {
			require.NoError(t, h.Register(ctx, regMeta, aliceLabel, registrant, expires))
			require.NoError(t, h.RegisterPreimage(ctx, preMeta, "NameRegistered", pre))
		}
		reg, ok, err := h.Registration(ctx, aliceLabel)
		require.NoError(t, err)
		require.True(t, ok)
		d, ok := getDomain(t, db, ident.NameHash("alice.eth"))
		require.True(t, ok)
		return reg, d
	}

	regA, domA := run(false)
	regB, domB := run(true)

	assert.Equal(t, regA, regB)
	assert.Equal(t, domA, domB)
	assert.Equal(t, "alice", *regA.LabelName)
	assert.Equal(t, "5000000", *regA.Cost)
	assert.Equal(t, "alice.eth", *domA.Name)
}

func TestRegisterPreimage_RejectsBadNames(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	h := newHandler(t, db, nil, ethNS)
	chain := testutil.NewChain(1, ident.Scheme{})

	require.NoError(t, h.RegisterPreimage(ctx, chain.Next(), "NameRegistered",
		Preimage{Name: "a.b", LabelHash: ident.LabelHash("a.b")}))
	require.NoError(t, h.RegisterPreimage(ctx, chain.Next(), "NameRegistered",
		Preimage{Name: "mallory", LabelHash: aliceLabel}))

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[entity.KindDomain])
	assert.Zero(t, counts[entity.KindEvent])
}

func TestRegisterPreimage_RenewalOfUnknownRegistrationOnlyLabelsDomain(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	h := newHandler(t, db, nil, ethNS)
	linkDomain(t, db, ethNS, "alice")

	require.NoError(t, h.RegisterPreimage(ctx, testutil.NewChain(1, ident.Scheme{}).Next(), "NameRenewed",
		Preimage{Name: "alice", LabelHash: aliceLabel, Cost: big.NewInt(1)}))

	_, ok, err := h.Registration(ctx, aliceLabel)
	require.NoError(t, err)
	assert.False(t, ok)

	d, ok := getDomain(t, db, ident.NameHash("alice.eth"))
	require.True(t, ok)
	assert.Equal(t, "alice", *d.LabelName)
}

func TestRenew(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	chain := testutil.NewChain(1, ident.Scheme{})
	h := newHandler(t, db, nil, ethNS)

	err := h.Renew(ctx, chain.Next(), aliceLabel, expires)
	require.ErrorIs(t, err, entity.ErrInvariant)

	linkDomain(t, db, ethNS, "alice")
	require.NoError(t, h.Register(ctx, chain.Next(), aliceLabel, registrant, expires))
	require.NoError(t, h.Renew(ctx, chain.NextBlock(), aliceLabel, expires+365*24*3600))

	reg, _, err := h.Registration(ctx, aliceLabel)
	require.NoError(t, err)
	assert.Equal(t, expires+365*24*3600, reg.ExpiryDate)

	d, _ := getDomain(t, db, ident.NameHash("alice.eth"))
	assert.Equal(t, expires+365*24*3600+entity.GracePeriod, *d.ExpiryDate)
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	chain := testutil.NewChain(1, ident.Scheme{})
	h := newHandler(t, db, nil, ethNS)

	// Mint precedes NameRegistered and is skipped.
	require.NoError(t, h.Transfer(ctx, chain.Next(), aliceLabel, ident.ZeroAddress, registrant))
	_, ok, err := h.Registration(ctx, aliceLabel)
	require.NoError(t, err)
	assert.False(t, ok)

	linkDomain(t, db, ethNS, "alice")
	require.NoError(t, h.Register(ctx, chain.Next(), aliceLabel, registrant, expires))
	require.NoError(t, h.Transfer(ctx, chain.NextBlock(), aliceLabel, registrant, buyer))

	reg, _, err := h.Registration(ctx, aliceLabel)
	require.NoError(t, err)
	assert.Equal(t, ident.AddressID(buyer), reg.RegistrantID)

	d, _ := getDomain(t, db, ident.NameHash("alice.eth"))
	assert.Equal(t, ident.AddressID(buyer), *d.RegistrantID)
}

func TestRegistrarEvents_UnknownDomainIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	chain := testutil.NewChain(1, ident.Scheme{})
	h := newHandler(t, db, heal.NewStatic("alice"), ethNS)

	err := h.Register(ctx, chain.Next(), aliceLabel, registrant, expires)
	require.ErrorIs(t, err, entity.ErrInvariant)

	err = h.RegisterPreimage(ctx, chain.Next(), "NameRegistered", Preimage{Name: "alice", LabelHash: aliceLabel})
	require.ErrorIs(t, err, entity.ErrInvariant)

	// A registration whose domain has gone missing cannot be renewed either.
	require.NoError(t, db.UpsertIgnore(ctx, entity.Registration{
		ID:           ident.HashID(aliceLabel),
		DomainID:     ident.HashID(ident.NameHash("alice.eth")),
		ExpiryDate:   expires,
		RegistrantID: ident.AddressID(registrant),
	}))
	err = h.Renew(ctx, chain.Next(), aliceLabel, expires+1)
	require.ErrorIs(t, err, entity.ErrInvariant)

	_, ok := getDomain(t, db, ident.NameHash("alice.eth"))
	assert.False(t, ok, "registrar events never create domains")
}

func TestRegister_GraceExpirySaturates(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenStore(t)
	chain := testutil.NewChain(1, ident.Scheme{})
	h := newHandler(t, db, nil, ethNS)
	linkDomain(t, db, ethNS, "alice")

	far := uint64(math.MaxUint64 - 1)
	require.NoError(t, h.Register(ctx, chain.Next(), aliceLabel, registrant, far))
	d, _ := getDomain(t, db, ident.NameHash("alice.eth"))
	require.NotNil(t, d.ExpiryDate)
	assert.Equal(t, uint64(math.MaxUint64), *d.ExpiryDate)

	require.NoError(t, h.Renew(ctx, chain.NextBlock(), aliceLabel, far-entity.GracePeriod+1))
	d, _ = getDomain(t, db, ident.NameHash("alice.eth"))
	assert.Equal(t, uint64(math.MaxUint64), *d.ExpiryDate)
}
