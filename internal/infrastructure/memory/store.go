// Package memory holds in-process stores used when no database is configured
// and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"redemption-fraud-engine/internal/domain/fraud"
)

// Store implements every read and write port of the engine in memory
type Store struct {
	mu           sync.RWMutex
	profiles     map[uuid.UUID]*fraud.UserProfile
	cards        map[uuid.UUID]*fraud.CardInfo
	transactions map[uuid.UUID][]fraud.Transaction
	devices      map[string][]fraud.DeviceRecord
	rules        map[uuid.UUID]fraud.FraudRule
	results      map[uuid.UUID]*fraud.FraudAnalysisResult
	byTx         map[uuid.UUID][]uuid.UUID

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		profiles:     make(map[uuid.UUID]*fraud.UserProfile),
		cards:        make(map[uuid.UUID]*fraud.CardInfo),
		transactions: make(map[uuid.UUID][]fraud.Transaction),
		devices:      make(map[string][]fraud.DeviceRecord),
		rules:        make(map[uuid.UUID]fraud.FraudRule),
		results:      make(map[uuid.UUID]*fraud.FraudAnalysisResult),
		byTx:         make(map[uuid.UUID][]uuid.UUID),
		now:          time.Now,
	}
}

func (s *Store) PutProfile(p fraud.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = &p
}

func (s *Store) PutCard(c fraud.CardInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.CardID] = &c
}

// AddTransaction records a completed transaction in the user's history
func (s *Store) AddTransaction(tx fraud.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transactions[tx.UserID] {
		if existing.ID == tx.ID {
			return
		}
	}
	s.transactions[tx.UserID] = append(s.transactions[tx.UserID], tx)
}

func (s *Store) RecordTransaction(_ context.Context, tx fraud.Transaction) error {
	s.AddTransaction(tx)
	return nil
}

func (s *Store) PutRule(r fraud.FraudRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
}

// Save validates and stores a rule, assigning an ID when it has none
func (s *Store) Save(_ context.Context, rule *fraud.FraudRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := s.now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	s.rules[rule.ID] = *rule
	return nil
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rules)), nil
}

// Disable turns a rule off without deleting it
func (s *Store) Disable(_ context.Context, ruleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return fraud.ErrRuleNotFound
	}
	r.Enabled = false
	r.UpdatedAt = s.now().UTC()
	s.rules[ruleID] = r
	return nil
}

func (s *Store) GetUserProfile(_ context.Context, userID uuid.UUID) (*fraud.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, fraud.ErrUserNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetCard(_ context.Context, cardID uuid.UUID) (*fraud.CardInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[cardID]
	if !ok {
		return nil, fraud.ErrCardNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetRecentTransactions(_ context.Context, userID uuid.UUID, windowDays int) ([]fraud.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().AddDate(0, 0, -windowDays)
	out := make([]fraud.Transaction, 0, len(s.transactions[userID]))
	for _, tx := range s.transactions[userID] {
		if tx.Timestamp.After(cutoff) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) GetDeviceHistory(_ context.Context, fingerprint string) ([]fraud.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.devices[fingerprint]
	out := make([]fraud.DeviceRecord, len(records))
	copy(out, records)
	return out, nil
}

// RecordDevice adds the device to its history and to the user's known devices
func (s *Store) RecordDevice(_ context.Context, userID uuid.UUID, record fraud.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.FirstSeen.IsZero() {
		record.FirstSeen = s.now().UTC()
	}
	if len(s.devices[record.Fingerprint]) == 0 {
		s.devices[record.Fingerprint] = append(s.devices[record.Fingerprint], record)
	}

	if p, ok := s.profiles[userID]; ok && !p.KnowsDevice(record.Fingerprint) {
		updated := *p
		updated.KnownDeviceFingerprints = append(append([]string{}, p.KnownDeviceFingerprints...), record.Fingerprint)
		s.profiles[userID] = &updated
	}
	return nil
}

func (s *Store) ListEnabled(_ context.Context) ([]fraud.FraudRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fraud.FraudRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Append stores a result. An analysis ID can only be written once.
func (s *Store) Append(_ context.Context, result *fraud.FraudAnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.AnalysisID]; exists {
		return fraud.ErrAnalysisAlreadyExists
	}
	cp := *result
	s.results[result.AnalysisID] = &cp
	s.byTx[result.TransactionID] = append(s.byTx[result.TransactionID], result.AnalysisID)
	return nil
}

func (s *Store) GetByID(_ context.Context, analysisID uuid.UUID) (*fraud.FraudAnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[analysisID]
	if !ok {
		return nil, fraud.ErrAnalysisNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListByTransaction(_ context.Context, transactionID uuid.UUID) ([]*fraud.FraudAnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTx[transactionID]
	out := make([]*fraud.FraudAnalysisResult, 0, len(ids))
	for _, id := range ids {
		cp := *s.results[id]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
