package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"slotsync/internal/backend"
	"slotsync/internal/events"
	"slotsync/internal/slots"
)

// ProfileUpdater pushes profile details to the backend.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, upd backend.ProfileUpdate) error
}

// Manager is the explicit session object over a Store. Every mutation is
// persisted and then published on the bus.
type Manager struct {
	store  Store
	bus    *events.Bus
	remote ProfileUpdater
	logger zerolog.Logger

	// serializes read-modify-write within this process
	mu sync.Mutex
}

// NewManager wires a session manager. remote may be nil, in which case
// profile details are only stored locally.
func NewManager(store Store, bus *events.Bus, remote ProfileUpdater, logger *zerolog.Logger) *Manager {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "session").Logger()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Manager{store: store, bus: bus, remote: remote, logger: l}
}

// Login stores the profile as the current session.
func (m *Manager) Login(ctx context.Context, p Profile) (*Profile, error) {
	p.Email = NormalizeEmail(p.Email)
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidProfile)
	}
	if p.InterviewStatus == "" {
		p.InterviewStatus = StatusNotBooked
	}

	if err := m.store.Save(ctx, &p); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	m.publish(events.SessionLogin, p)
	m.logger.Info().Str("email", p.Email).Msg("session started")
	return &p, nil
}

// Current returns the stored profile.
func (m *Manager) Current(ctx context.Context, email string) (*Profile, error) {
	return m.store.Load(ctx, email)
}

// Update applies fn to the stored profile and persists the result.
func (m *Manager) Update(ctx context.Context, email string, fn func(p *Profile) error) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Load(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	p.Email = NormalizeEmail(email)

	if err := m.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	m.publish(events.SessionProfileUpdated, *p)
	return p, nil
}

// UpdateDetails validates name and college, pushes them to the backend and
// stores them.
func (m *Manager) UpdateDetails(ctx context.Context, email, name, college string) (*Profile, error) {
	name = strings.TrimSpace(name)
	college = strings.TrimSpace(college)
	if err := errors.Join(ValidateName(name), ValidateCollege(college)); err != nil {
		return nil, err
	}

	if _, err := m.store.Load(ctx, email); err != nil {
		return nil, err
	}

	if m.remote != nil {
		upd := backend.ProfileUpdate{Email: NormalizeEmail(email), Name: name, College: college}
		if err := m.remote.UpdateProfile(ctx, upd); err != nil {
			return nil, fmt.Errorf("update profile: %w", err)
		}
	}

	return m.Update(ctx, email, func(p *Profile) error {
		p.Name = name
		p.College = college
		return nil
	})
}

// RecordBooking marks the session booked for the given interview.
func (m *Manager) RecordBooking(ctx context.Context, email string, date slots.Date, at slots.Clock, paymentID string) (*Profile, error) {
	return m.Update(ctx, email, func(p *Profile) error {
		p.InterviewStatus = StatusBooked
		p.InterviewDate = date.String()
		p.InterviewTime = at.String()
		p.PaymentID = paymentID
		return nil
	})
}

// Logout removes the session.
func (m *Manager) Logout(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if _, err := m.store.Load(ctx, email); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, email); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	m.publish(events.SessionLogout, struct {
		Email string `json:"email"`
	}{Email: email})
	m.logger.Info().Str("email", email).Msg("session ended")
	return nil
}

func (m *Manager) publish(eventType string, payload any) {
	if err := m.bus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event", eventType).Msg("publish session event")
	}
}
