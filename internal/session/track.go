package session

import (
	"sync"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/models"
)

// State is the position of one identity track in its state machine.
type State int

const (
	SignedOut State = iota
	SignedIn
	SpectatorActive
)

func (s State) String() string {
	switch s {
	case SignedIn:
		return "signed-in"
	case SpectatorActive:
		return "spectator-active"
	default:
		return "signed-out"
	}
}

// Track names the two independent identities a client may hold.
type Track string

const (
	TrackPrimary   Track = "primary"
	TrackSpectator Track = "spectator"
)

// PrimaryTrack holds the password-authenticated identity.
// SignedOut -> SignedIn on credential exchange, back on logout or revocation.
type PrimaryTrack struct {
	mu      sync.RWMutex
	profile *models.Profile
	cred    *Credential
	// seq orders transitions across both tracks
	seq uint64
}

// State returns SignedIn or SignedOut.
func (t *PrimaryTrack) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.profile == nil {
		return SignedOut
	}
	return SignedIn
}

// Profile returns a copy of the signed-in profile, or nil.
func (t *PrimaryTrack) Profile() *models.Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyProfile(t.profile)
}

func (t *PrimaryTrack) signIn(cred *Credential, seq uint64) *models.Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cred = cred
	t.profile = &models.Profile{UID: cred.UID, Email: cred.Email}
	t.seq = seq
	return copyProfile(t.profile)
}

// refresh swaps the credential without counting as a transition.
func (t *PrimaryTrack) refresh(cred *Credential) (*models.Profile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.profile == nil {
		return nil, false
	}
	t.cred = cred
	t.profile = &models.Profile{UID: cred.UID, Email: cred.Email}
	return copyProfile(t.profile), true
}

func (t *PrimaryTrack) signOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasIn := t.profile != nil
	t.profile, t.cred = nil, nil
	return wasIn
}

func (t *PrimaryTrack) snapshot() (*Credential, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cred, t.seq
}

// SpectatorTrack holds the capability-token identity and its claims.
// SignedOut -> SpectatorActive on a valid unexpired token, back on
// logout or when a refresh observes the deadline has passed.
type SpectatorTrack struct {
	mu      sync.RWMutex
	profile *models.Profile
	claims  *capability.Claims
	cred    *Credential
	seq     uint64
}

// State returns SpectatorActive or SignedOut.
func (t *SpectatorTrack) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.claims == nil {
		return SignedOut
	}
	return SpectatorActive
}

// Profile returns a copy of the spectator's synthetic profile, or nil.
func (t *SpectatorTrack) Profile() *models.Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyProfile(t.profile)
}

// Claims returns a copy of the current capability claims, or nil.
func (t *SpectatorTrack) Claims() *capability.Claims {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.claims == nil {
		return nil
	}
	c := *t.claims
	c.RoomAccess = make(map[string]bool, len(t.claims.RoomAccess))
	for id, ok := range t.claims.RoomAccess {
		c.RoomAccess[id] = ok
	}
	return &c
}

func (t *SpectatorTrack) activate(cred *Credential, claims *capability.Claims, seq uint64) *models.Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cred = cred
	t.claims = claims
	t.profile = &models.Profile{UID: cred.UID, Email: cred.Email}
	t.seq = seq
	return copyProfile(t.profile)
}

func (t *SpectatorTrack) refresh(cred *Credential, claims *capability.Claims) (*models.Profile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.claims == nil {
		return nil, false
	}
	t.cred = cred
	t.claims = claims
	t.profile = &models.Profile{UID: cred.UID, Email: cred.Email}
	return copyProfile(t.profile), true
}

func (t *SpectatorTrack) signOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := t.claims != nil
	t.profile, t.claims, t.cred = nil, nil, nil
	return wasActive
}

func (t *SpectatorTrack) snapshot() (*Credential, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cred, t.seq
}

func copyProfile(p *models.Profile) *models.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
