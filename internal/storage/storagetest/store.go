// Package storagetest предоставляет хранилище в памяти с теми же контрактами
// атомарности, что и repository.Storage. Используется в тестах сервисов.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

type reservationKey struct {
	communityID string
	memberID    string
}

type reservation struct {
	sessionID string
	expiresAt time.Time
}

// Store — хранилище в памяти. Все операции выполняются под одним мьютексом,
// что соответствует транзакции с блокировкой строк.
type Store struct {
	mu           sync.Mutex
	communities  map[string]models.Community
	members      map[string]models.Member
	usage        []models.UsageEvent
	reservations map[reservationKey]reservation
	processed    map[string]string
	outbox       []repository.OutboxMessage
	nextID       int64

	failures map[string]error
}

// New возвращает пустое хранилище.
func New() *Store {
	return &Store{
		communities:  make(map[string]models.Community),
		members:      make(map[string]models.Member),
		reservations: make(map[reservationKey]reservation),
		processed:    make(map[string]string),
		failures:     make(map[string]error),
	}
}

// FailOn заставляет операцию op (например "ApplyVerified") возвращать err. nil снимает сбой.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("storagetest.%s: %w", op, err)
	}
	return nil
}

// PutCommunity сохраняет сообщество как есть.
func (s *Store) PutCommunity(c models.Community) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communities[c.ID] = c
}

// PutMember сохраняет участника как есть.
func (s *Store) PutMember(m models.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
}

// Community возвращает копию сообщества.
func (s *Store) Community(id string) (models.Community, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.communities[id]
	return c, ok
}

// Member возвращает копию участника.
func (s *Store) Member(id string) (models.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	return m, ok
}

// Usage возвращает копию журнала использования.
func (s *Store) Usage() []models.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.UsageEvent(nil), s.usage...)
}

// Reservations возвращает число резервов сообщества, включая истекшие.
func (s *Store) Reservations(communityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.reservations {
		if k.communityID == communityID {
			n++
		}
	}
	return n
}

// Outbox возвращает копию outbox.
func (s *Store) Outbox() []repository.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.OutboxMessage(nil), s.outbox...)
}

func (s *Store) GetCommunity(_ context.Context, id string) (*models.Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetCommunity"); err != nil {
		return nil, err
	}
	c, ok := s.communities[id]
	if !ok {
		return nil, fmt.Errorf("storagetest.GetCommunity: %w", repository.ErrCommunityNotFound)
	}
	return &c, nil
}

func (s *Store) GetMember(_ context.Context, id string) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetMember"); err != nil {
		return nil, err
	}
	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("storagetest.GetMember: %w", repository.ErrMemberNotFound)
	}
	return &m, nil
}

func (s *Store) ReserveQuota(_ context.Context, communityID, memberID string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ReserveQuota"); err != nil {
		return false, err
	}
	c, ok := s.communities[communityID]
	if !ok {
		return false, fmt.Errorf("storagetest.ReserveQuota: %w", repository.ErrCommunityNotFound)
	}
	held := 0
	for k, r := range s.reservations {
		if k.communityID != communityID {
			continue
		}
		if !r.expiresAt.After(now) {
			delete(s.reservations, k)
			continue
		}
		if k.memberID != memberID {
			held++
		}
	}
	if c.QuotaRemaining-held <= 0 {
		return false, nil
	}
	s.reservations[reservationKey{communityID, memberID}] = reservation{expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *Store) ReleaseReservation(_ context.Context, communityID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ReleaseReservation"); err != nil {
		return err
	}
	delete(s.reservations, reservationKey{communityID, memberID})
	return nil
}

func (s *Store) appendUsageLocked(communityID, memberID string, action models.UsageAction, at time.Time) {
	s.nextID++
	s.usage = append(s.usage, models.UsageEvent{
		ID:          s.nextID,
		CommunityID: communityID,
		MemberID:    memberID,
		Action:      action,
		CreatedAt:   at,
	})
}

func (s *Store) RecordAttempt(_ context.Context, a models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("RecordAttempt"); err != nil {
		return err
	}
	m := s.members[a.MemberID]
	m.ID = a.MemberID
	at := a.At
	m.LastAttemptAt = &at
	s.members[a.MemberID] = m
	s.appendUsageLocked(a.CommunityID, a.MemberID, models.ActionVerify, a.At)
	key := reservationKey{a.CommunityID, a.MemberID}
	if r, ok := s.reservations[key]; ok {
		r.sessionID = a.SessionID
		s.reservations[key] = r
	}
	return nil
}

func (s *Store) AppendUsageEvent(_ context.Context, ev models.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("AppendUsageEvent"); err != nil {
		return err
	}
	s.appendUsageLocked(ev.CommunityID, ev.MemberID, ev.Action, ev.CreatedAt)
	return nil
}

func (s *Store) ListUsageEvents(_ context.Context, communityID string, limit int) ([]models.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListUsageEvents"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	var events []models.UsageEvent
	for _, ev := range s.usage {
		if ev.CommunityID == communityID {
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID > events[j].ID
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) ConfigurePolicy(_ context.Context, upd models.PolicyUpdate, actorID string, now time.Time) (*models.Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ConfigurePolicy"); err != nil {
		return nil, err
	}
	c, ok := s.communities[upd.CommunityID]
	if !ok {
		c = *models.NewCommunity(upd.CommunityID)
		c.CreatedAt = now
	}
	if upd.OwnerID != "" {
		c.OwnerID = upd.OwnerID
	}
	c.RoleID = upd.RoleID
	c.MinAge = upd.MinAge
	c.UpdatedAt = now
	s.communities[c.ID] = c
	s.appendUsageLocked(upd.CommunityID, actorID, models.ActionSetPolicy, now)
	return &c, nil
}

func (s *Store) ApplyVerified(_ context.Context, res models.VerifiedResult) (models.VerifiedOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ApplyVerified"); err != nil {
		return models.VerifiedOutcome{}, err
	}
	var out models.VerifiedOutcome
	m := s.members[res.MemberID]
	m.ID = res.MemberID
	out.FirstVerification = !m.Verified

	c, ok := s.communities[res.CommunityID]
	if ok {
		if out.FirstVerification && c.QuotaRemaining > 0 {
			c.QuotaRemaining--
			c.UpdatedAt = res.At
			s.communities[c.ID] = c
			out.QuotaDecremented = true
		}
		cc := c
		out.Community = &cc
	}

	m.Verified = true
	if res.EncryptedDOB != "" {
		m.EncryptedDOB = res.EncryptedDOB
	}
	if m.VerifiedAt == nil {
		at := res.At
		m.VerifiedAt = &at
	}
	s.members[m.ID] = m
	delete(s.reservations, reservationKey{res.CommunityID, res.MemberID})
	out.Member = m
	return out, nil
}

func (s *Store) ApplyCanceled(_ context.Context, communityID, memberID string, _ time.Time) (models.CanceledOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ApplyCanceled"); err != nil {
		return models.CanceledOutcome{}, err
	}
	delete(s.reservations, reservationKey{communityID, memberID})
	m := s.members[memberID]
	m.ID = memberID
	out := models.CanceledOutcome{WasVerified: m.Verified}
	m.Verified = false
	s.members[memberID] = m
	return out, nil
}

func (s *Store) ApplyBillingEvent(_ context.Context, eventID, eventType string, lookup models.CommunityLookup,
	now time.Time, mutate models.CommunityMutation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ApplyBillingEvent"); err != nil {
		return false, err
	}
	if eventID != "" {
		if _, seen := s.processed[eventID]; seen {
			return false, nil
		}
	}

	var (
		c      *models.Community
		exists bool
	)
	switch {
	case lookup.CommunityID != "":
		if found, ok := s.communities[lookup.CommunityID]; ok {
			c, exists = &found, true
		} else {
			c = models.NewCommunity(lookup.CommunityID)
		}
	case lookup.SubscriptionID != "":
		var latest *models.Community
		for _, candidate := range s.communities {
			if candidate.BillingSubscriptionID != lookup.SubscriptionID {
				continue
			}
			if latest == nil || candidate.UpdatedAt.After(latest.UpdatedAt) {
				cc := candidate
				latest = &cc
			}
		}
		if latest != nil {
			c, exists = latest, true
		}
	}

	save, err := mutate(c, exists)
	if err != nil {
		return false, err
	}
	if save && c != nil {
		if !exists {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		c.QuotaRemaining = max(c.QuotaRemaining, 0)
		s.communities[c.ID] = *c
	}
	if eventID != "" {
		s.processed[eventID] = eventType
	}
	return true, nil
}

func (s *Store) LapseStaleCommunities(_ context.Context, threshold, now time.Time) ([]models.Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LapseStaleCommunities"); err != nil {
		return nil, err
	}
	var lapsed []models.Community
	for id, c := range s.communities {
		if c.SubscriptionActive && c.LastRenewalAt != nil && c.LastRenewalAt.Before(threshold) {
			c.SubscriptionActive = false
			c.UpdatedAt = now
			s.communities[id] = c
			lapsed = append(lapsed, c)
		}
	}
	sort.Slice(lapsed, func(i, j int) bool { return lapsed[i].ID < lapsed[j].ID })
	return lapsed, nil
}

func (s *Store) EnqueueOutbox(_ context.Context, messageID string, body []byte, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("EnqueueOutbox"); err != nil {
		return err
	}
	for _, m := range s.outbox {
		if m.MessageID == messageID {
			return nil
		}
	}
	s.nextID++
	s.outbox = append(s.outbox, repository.OutboxMessage{ID: s.nextID, MessageID: messageID, Body: body})
	return nil
}

func (s *Store) RedriveOutbox(ctx context.Context, limit int, _ time.Time, _ time.Duration,
	publish func(ctx context.Context, msg repository.OutboxMessage) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("RedriveOutbox"); err != nil {
		return 0, err
	}
	delivered := 0
	remaining := s.outbox[:0:0]
	for i, m := range s.outbox {
		if i >= limit {
			remaining = append(remaining, m)
			continue
		}
		if err := publish(ctx, m); err != nil {
			m.Attempts++
			remaining = append(remaining, m)
			continue
		}
		delivered++
	}
	s.outbox = remaining
	return delivered, nil
}
