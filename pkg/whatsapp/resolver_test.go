package whatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.mau.fi/whatsmeow/types"
)

type fakeLIDStore struct {
	mappings map[string]types.JID
	calls    int
}

func (f *fakeLIDStore) GetPNForLID(_ context.Context, lid types.JID) (types.JID, error) {
	f.calls++
	pn, ok := f.mappings[lid.User]
	if !ok {
		return types.EmptyJID, errors.New("no mapping")
	}
	return pn, nil
}

func TestResolvePassthroughOutsideLIDNamespace(t *testing.T) {
	r := newIdentityResolver()

	phone := types.NewJID("628123456789", types.DefaultUserServer)
	group := types.NewJID("1234567890-987654", types.GroupServer)

	assert.Equal(t, phone, r.Resolve(phone))
	assert.Equal(t, group, r.Resolve(group))
}

func TestResolveUnknownLIDReturnsInputUnchanged(t *testing.T) {
	r := newIdentityResolver()

	lid := types.NewJID("99887766", types.HiddenUserServer)
	assert.Equal(t, lid, r.Resolve(lid))
}

func TestResolveLearnedMapping(t *testing.T) {
	r := newIdentityResolver()

	lid := types.NewJID("99887766", types.HiddenUserServer)
	pn := types.NewJID("628123456789", types.DefaultUserServer)
	r.learn(lid, pn)

	want := types.NewJID("628123456789", types.DefaultUserServer)
	assert.Equal(t, want, r.Resolve(lid))
	// Repeated resolution is stable.
	assert.Equal(t, want, r.Resolve(lid))
}

func TestLearnAcceptsEitherOrder(t *testing.T) {
	r := newIdentityResolver()

	lid := types.NewJID("11223344", types.HiddenUserServer)
	pn := types.NewJID("628999888777", types.DefaultUserServer)
	r.learn(pn, lid)

	assert.Equal(t, pn, r.Resolve(lid))
}

func TestLearnIgnoresUnrelatedPairs(t *testing.T) {
	r := newIdentityResolver()

	a := types.NewJID("628111", types.DefaultUserServer)
	b := types.NewJID("628222", types.DefaultUserServer)
	r.learn(a, b)
	r.learn(a, types.EmptyJID)

	lid := types.NewJID("628111", types.HiddenUserServer)
	assert.Equal(t, lid, r.Resolve(lid))
}

func TestResolveFallsBackToStoreAndCaches(t *testing.T) {
	r := newIdentityResolver()
	fake := &fakeLIDStore{mappings: map[string]types.JID{
		"55667788": types.NewJID("628555444333", types.DefaultUserServer),
	}}
	r.lids = fake

	lid := types.NewJID("55667788", types.HiddenUserServer)
	want := types.NewJID("628555444333", types.DefaultUserServer)

	assert.Equal(t, want, r.Resolve(lid))
	assert.Equal(t, 1, fake.calls)

	// Second resolve hits the cache, not the store.
	assert.Equal(t, want, r.Resolve(lid))
	assert.Equal(t, 1, fake.calls)
}
