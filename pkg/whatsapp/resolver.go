package whatsapp

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"

	"github.com/wabridge/wabridge/pkg/log"
)

// lidLookup is the slice of the device store used for reverse-mapping
// lookups, narrowed for testability.
type lidLookup interface {
	GetPNForLID(ctx context.Context, lid types.JID) (types.JID, error)
}

// identityResolver maps opaque linked-identifier (LID) user-parts onto
// stable phone-number user-parts so downstream allow-lists and thread
// matching always see one canonical namespace.
type identityResolver struct {
	mu      sync.RWMutex
	lidToPN map[string]string
	lids    lidLookup
}

func newIdentityResolver() *identityResolver {
	return &identityResolver{lidToPN: make(map[string]string)}
}

// seed installs the own-identity pair and the store handle used for
// lazy reverse-mapping lookups. The mapping is an optimization, not a
// connection requirement, so nothing here can fail the connect path.
func (r *identityResolver) seed(device *store.Device) {
	if device == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if device.LIDs != nil {
		r.lids = device.LIDs
	}
	if device.ID != nil && !device.LID.IsEmpty() {
		r.lidToPN[device.LID.User] = device.ID.User
	}
}

// learn records a mapping observed from an event that carried both
// addresses of the same participant.
func (r *identityResolver) learn(primary types.JID, alt types.JID) {
	var lid, pn types.JID
	switch {
	case primary.Server == types.HiddenUserServer && alt.Server == types.DefaultUserServer:
		lid, pn = primary, alt
	case alt.Server == types.HiddenUserServer && primary.Server == types.DefaultUserServer:
		lid, pn = alt, primary
	default:
		return
	}
	if lid.User == "" || pn.User == "" {
		return
	}
	r.mu.Lock()
	r.lidToPN[lid.User] = pn.User
	r.mu.Unlock()
}

// Resolve maps a LID onto the equivalent phone-number JID. Identifiers
// outside the LID namespace are returned unchanged, as are LIDs with no
// known mapping: downstream allow-lists keyed by phone number will then
// simply not match, which beats failing the event.
func (r *identityResolver) Resolve(jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return jid
	}

	r.mu.RLock()
	pn, ok := r.lidToPN[jid.User]
	lids := r.lids
	r.mu.RUnlock()
	if ok {
		return types.NewJID(pn, types.DefaultUserServer)
	}

	if lids != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if mapped, err := lids.GetPNForLID(ctx, jid); err == nil && !mapped.IsEmpty() {
			r.mu.Lock()
			r.lidToPN[jid.User] = mapped.User
			r.mu.Unlock()
			return types.NewJID(mapped.User, types.DefaultUserServer)
		}
	}

	log.Bridge("resolve").WithField("lid", jid.String()).Warn("No phone-number mapping for linked identifier")
	return jid
}
