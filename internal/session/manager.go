package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/models"
)

// ErrNoProvider is returned when a track is used without its provider.
var ErrNoProvider = errors.New("session: no identity provider configured")

// View is what the presentation layer shows: the identity of whichever
// track most recently signed in, with spectator status kept as its own
// flag.
type View struct {
	Profile     *models.Profile
	IsSpectator bool
}

// Listener is notified after every track transition.
type Listener func(track Track, state State)

// Manager owns the primary and spectator tracks of one client. The
// tracks never share state; signing out of one leaves the other intact.
type Manager struct {
	primaryAuth   PrimaryProvider
	spectatorAuth SpectatorProvider
	profiles      ProfileStore
	now           func() time.Time
	listener      Listener

	seq       atomic.Uint64
	primary   PrimaryTrack
	spectator SpectatorTrack
}

// NewManager creates a Manager. Either provider may be nil when the
// client only uses the other track.
func NewManager(primary PrimaryProvider, spectator SpectatorProvider, profiles ProfileStore) *Manager {
	if profiles == nil {
		profiles = NewMemoryProfileStore()
	}
	return &Manager{
		primaryAuth:   primary,
		spectatorAuth: spectator,
		profiles:      profiles,
		now:           time.Now,
	}
}

// OnTransition registers l. Call it before the manager is shared.
func (m *Manager) OnTransition(l Listener) {
	m.listener = l
}

// Primary exposes the primary track for inspection.
func (m *Manager) Primary() *PrimaryTrack { return &m.primary }

// Spectator exposes the spectator track for inspection.
func (m *Manager) Spectator() *SpectatorTrack { return &m.spectator }

// SignInPrimary exchanges a password for a primary session and persists
// the minimal profile.
func (m *Manager) SignInPrimary(ctx context.Context, email, password string) error {
	if m.primaryAuth == nil {
		return ErrNoProvider
	}
	cred, err := m.primaryAuth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return fmt.Errorf("primary sign-in failed: %w", err)
	}
	profile := m.primary.signIn(cred, m.seq.Add(1))
	m.persist(PrimaryProfileKey, profile)
	m.emit(TrackPrimary, SignedIn)
	return nil
}

// SignOutPrimary ends the primary session and clears its stored profile.
func (m *Manager) SignOutPrimary() {
	if !m.primary.signOut() {
		return
	}
	m.clear(PrimaryProfileKey)
	m.emit(TrackPrimary, SignedOut)
}

// PrimaryRevoked handles the provider signalling that the primary
// credential is no longer valid.
func (m *Manager) PrimaryRevoked() {
	log.Printf("[Session] Primary credential revoked; signing out")
	m.SignOutPrimary()
}

// OnPrimaryRefresh applies a refreshed primary credential.
func (m *Manager) OnPrimaryRefresh(cred *Credential) State {
	profile, ok := m.primary.refresh(cred)
	if !ok {
		return SignedOut
	}
	m.persist(PrimaryProfileKey, profile)
	return SignedIn
}

// ActivateSpectator presents a capability token. The token must carry
// the spectator role and a deadline that has not passed.
func (m *Manager) ActivateSpectator(ctx context.Context, token string) error {
	if m.spectatorAuth == nil {
		return ErrNoProvider
	}
	cred, err := m.spectatorAuth.SignInWithToken(ctx, token)
	if err != nil {
		return fmt.Errorf("spectator sign-in failed: %w", err)
	}
	claims, err := capability.ClaimsFromMap(cred.UID, cred.Claims)
	if err != nil {
		return err
	}
	if claims.Role != capability.RoleSpectator {
		return fmt.Errorf("%w: not a spectator token", capability.ErrInvalidToken)
	}
	if m.now().UnixMilli() >= claims.ExpiresAt {
		return capability.ErrTokenExpired
	}

	profile := m.spectator.activate(cred, claims, m.seq.Add(1))
	m.persist(SpectatorProfileKey, profile)
	m.emit(TrackSpectator, SpectatorActive)
	return nil
}

// SignOutSpectator ends the spectator session and discards its state.
func (m *Manager) SignOutSpectator() {
	if !m.spectator.signOut() {
		return
	}
	m.clear(SpectatorProfileKey)
	m.emit(TrackSpectator, SignedOut)
}

// OnSpectatorRefresh is the expiry enforcement point. Every refreshed
// spectator credential has its deadline re-read; once now is past it
// the spectator is signed out.
func (m *Manager) OnSpectatorRefresh(cred *Credential) (State, error) {
	if m.spectator.State() != SpectatorActive {
		return SignedOut, nil
	}
	claims, err := capability.ClaimsFromMap(cred.UID, cred.Claims)
	if err != nil {
		log.Printf("[Session] Error checking spectator token claims: %v", err)
		m.SignOutSpectator()
		return SignedOut, err
	}
	if m.now().UnixMilli() > claims.ExpiresAt {
		log.Printf("[Session] Spectator token expired; signing out %s", claims.UID)
		m.SignOutSpectator()
		return SignedOut, nil
	}
	profile, ok := m.spectator.refresh(cred, claims)
	if !ok {
		return SignedOut, nil
	}
	m.persist(SpectatorProfileKey, profile)
	return SpectatorActive, nil
}

// Refresh runs one round of provider token upkeep for every active track.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []error

	if cred, _ := m.primary.snapshot(); cred != nil && m.primaryAuth != nil {
		next, err := m.primaryAuth.Refresh(ctx, cred)
		switch {
		case errors.Is(err, ErrRevoked):
			m.PrimaryRevoked()
		case err != nil:
			errs = append(errs, fmt.Errorf("primary refresh: %w", err))
		default:
			m.OnPrimaryRefresh(next)
		}
	}

	if cred, _ := m.spectator.snapshot(); cred != nil && m.spectatorAuth != nil {
		next, err := m.spectatorAuth.Refresh(ctx, cred)
		switch {
		case errors.Is(err, ErrRevoked):
			log.Printf("[Session] Spectator credential revoked; signing out")
			m.SignOutSpectator()
		case err != nil:
			errs = append(errs, fmt.Errorf("spectator refresh: %w", err))
		default:
			if _, err := m.OnSpectatorRefresh(next); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Run refreshes active tracks every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				log.Printf("[Session] Refresh failed: %v", err)
			}
		}
	}
}

// Current composes both tracks into the presentation view.
func (m *Manager) Current() View {
	pCred, pSeq := m.primary.snapshot()
	sCred, sSeq := m.spectator.snapshot()

	switch {
	case sCred != nil && (pCred == nil || sSeq > pSeq):
		return View{Profile: m.spectator.Profile(), IsSpectator: true}
	case pCred != nil:
		return View{Profile: m.primary.Profile()}
	default:
		return View{}
	}
}

// CanRead reports whether the spectator may read roomID right now.
// Scope and deadline are evaluated on every call.
func (m *Manager) CanRead(roomID string) error {
	return capability.Authorize(m.spectator.Claims(), roomID, m.now())
}

// SpectatorToken returns the bearer token of the active spectator, or "".
func (m *Manager) SpectatorToken() string {
	cred, _ := m.spectator.snapshot()
	if cred == nil {
		return ""
	}
	return cred.IDToken
}

// PrimaryToken returns the bearer token of the signed-in user, or "".
func (m *Manager) PrimaryToken() string {
	cred, _ := m.primary.snapshot()
	if cred == nil {
		return ""
	}
	return cred.IDToken
}

func (m *Manager) persist(key string, p *models.Profile) {
	if err := m.profiles.Save(key, p); err != nil {
		log.Printf("[Session] Failed to persist %s: %v", key, err)
	}
}

func (m *Manager) clear(key string) {
	if err := m.profiles.Clear(key); err != nil {
		log.Printf("[Session] Failed to clear %s: %v", key, err)
	}
}

func (m *Manager) emit(track Track, state State) {
	if m.listener != nil {
		m.listener(track, state)
	}
}
