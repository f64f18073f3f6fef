package ability

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/store"
)

// Estimate is C3's in-process view of §3's AbilityEstimate.
type Estimate struct {
	UserID      string
	Subject     string
	Theta       float64
	Confidence  float64
	SampleCount int64
	LastUpdated time.Time
}

func fromRecord(r store.AbilityEstimate) Estimate {
	return Estimate{
		UserID:      r.UserID,
		Subject:     r.Subject,
		Theta:       r.Theta,
		Confidence:  r.Confidence,
		SampleCount: r.SampleCount,
		LastUpdated: r.LastUpdated,
	}
}

func (e Estimate) toRecord() store.AbilityEstimate {
	return store.AbilityEstimate{
		UserID:      e.UserID,
		Subject:     e.Subject,
		Theta:       e.Theta,
		Confidence:  e.Confidence,
		SampleCount: e.SampleCount,
		LastUpdated: e.LastUpdated,
	}
}

// prior is the estimate returned for a (user, subject) pair with no history
// (§4.3 contract).
func prior(userID, subject string) Estimate {
	return Estimate{UserID: userID, Subject: subject, Theta: priorTheta, Confidence: 0, SampleCount: 0}
}

// Store is C3: the ability tracker backed by the document store's
// ability_estimates collection.
type Store struct {
	db store.Store
}

// NewStore wraps a document store as C3's ability tracker.
func NewStore(db store.Store) *Store {
	return &Store{db: db}
}

// Get returns the current ability estimate, or the prior if there is no
// history for this (user, subject) pair (§4.3).
func (s *Store) Get(ctx context.Context, userID, subject string) (Estimate, error) {
	rec, err := s.db.GetAbility(ctx, userID, subject)
	if err != nil {
		return Estimate{}, fmt.Errorf("ability: get %s/%s: %w", userID, subject, err)
	}
	if rec == nil {
		return prior(userID, subject), nil
	}
	return fromRecord(*rec), nil
}

// Update applies a single IRT Bayesian step for one graded outcome and
// persists the result. It is idempotent per (messageID, subject): a second
// call with the same messageID is a no-op that returns the estimate
// unchanged (§4.3 contract).
func (s *Store) Update(ctx context.Context, userID, subject, messageID string, difficulty, discrimination float64, outcome int) (Estimate, error) {
	applied, err := s.db.WasAbilityUpdateApplied(ctx, messageID, subject)
	if err != nil {
		return Estimate{}, fmt.Errorf("ability: idempotency check: %w", err)
	}
	if applied {
		return s.Get(ctx, userID, subject)
	}

	current, err := s.Get(ctx, userID, subject)
	if err != nil {
		return Estimate{}, err
	}

	newTheta, newConfidence := bayesianStep(current.Theta, current.Confidence, difficulty, discrimination, outcome)
	updated := Estimate{
		UserID:      userID,
		Subject:     subject,
		Theta:       newTheta,
		Confidence:  newConfidence,
		SampleCount: current.SampleCount + 1,
		LastUpdated: time.Now(),
	}

	if err := s.db.SaveAbility(ctx, updated.toRecord()); err != nil {
		return Estimate{}, fmt.Errorf("ability: save: %w", err)
	}
	if err := s.db.RecordAbilityUpdateApplied(ctx, messageID, subject); err != nil {
		return Estimate{}, fmt.Errorf("ability: record idempotency token: %w", err)
	}
	return updated, nil
}
