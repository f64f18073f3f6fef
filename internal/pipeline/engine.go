package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/budget"
	"github.com/jordanhubbard/learncompanion/internal/cost"
	"github.com/jordanhubbard/learncompanion/internal/difficulty"
	"github.com/jordanhubbard/learncompanion/internal/engineerr"
	"github.com/jordanhubbard/learncompanion/internal/prompt"
	"github.com/jordanhubbard/learncompanion/internal/store"
)

func newID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ensureSession loads sessionID, or creates a new session for userID if
// sessionID is empty (§4.12 step 1 "Load/create session").
func (e *Engine) ensureSession(ctx context.Context, userID, sessionID string) (string, error) {
	if sessionID != "" {
		sess, err := e.db.GetSession(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("pipeline: load session: %w", err)
		}
		if sess != nil {
			return sessionID, nil
		}
	}
	id := sessionID
	if id == "" {
		id = newID()
	}
	now := time.Now()
	if err := e.db.CreateSession(ctx, store.Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
	}); err != nil {
		return "", fmt.Errorf("pipeline: create session: %w", err)
	}
	return id, nil
}

// Process implements §4.12's non-streaming entry point.
func (e *Engine) Process(ctx context.Context, req Request) (Response, error) {
	subject := req.Subject
	if subject == "" {
		subject = "general"
	}

	sessionID, err := e.ensureSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return Response{}, err
	}

	userMsgID := newID()
	now := time.Now()
	if err := e.db.InsertMessage(ctx, store.Message{
		ID:        userMsgID,
		SessionID: sessionID,
		UserID:    req.UserID,
		Role:      "user",
		Content:   req.Message,
		Timestamp: now,
	}); err != nil {
		return Response{}, fmt.Errorf("pipeline: persist user message: %w", err)
	}

	sig := e.gatherSignals(ctx, req.UserID, sessionID, subject, req.Message)

	level := difficulty.Select(nil, sig.ability.Theta, sig.ability.SampleCount, sig.emotion.CognitiveLoad, sig.emotion.FlowState, sig.emotion.LearningReadiness)

	category := deriveCategory(subject, req.Message)
	candidates := e.buildCandidates()
	providerMax := maxCandidateContext(candidates)
	if req.MaxTokens > 0 && req.MaxTokens < providerMax {
		providerMax = req.MaxTokens
	}
	tb := budget.Allocate(req.Message, sig.emotion, sig.ability, providerMax, e.cfg.BudgetClamps)

	sel, err := e.selector.Select(category, req.ProviderPreference, tb.Total, candidates)
	if err != nil {
		return Response{}, err
	}

	promptStr := prompt.Build(prompt.Input{
		Subject:    subject,
		Ability:    sig.ability,
		Emotion:    sig.emotion,
		Difficulty: level,
		Context:    sig.context,
		Budget:     tb,
		Message:    req.Message,
	})

	projectedCost := (float64(tb.Total) / 1000.0) * sel.Primary().CostPer1KTokens
	if err := e.costEnforcer.CheckPreflight(ctx, req.UserID, projectedCost); err != nil {
		return Response{}, toEngineErr(err)
	}

	gen, err := e.generate(ctx, sel, promptStr, tb, category)
	if err != nil {
		return Response{}, err
	}

	assistantMsgID := newID()
	emotionJSON, _ := json.Marshal(sig.emotion)
	completedAt := time.Now()
	if err := e.db.InsertMessage(ctx, store.Message{
		ID:              assistantMsgID,
		SessionID:       sessionID,
		UserID:          req.UserID,
		Role:            "assistant",
		Content:         gen.Text,
		Timestamp:       completedAt,
		EmotionSnapshot: string(emotionJSON),
		Provider:        gen.ProviderID,
		LatencyMs:       gen.LatencyMs,
		TokenCount:      gen.InTokens + gen.OutTokens,
		CostUSD:         gen.CostUSD,
	}); err != nil {
		e.logger.Error("pipeline: persist assistant message failed", "error", err.Error())
	}
	_ = e.db.TouchSession(ctx, sessionID, completedAt, gen.CostUSD, int64(gen.InTokens+gen.OutTokens))

	b, a := difficultyToIRT(level)
	updated, err := e.abilityStore.Update(ctx, req.UserID, subject, assistantMsgID, b, a, inferOutcome(sig.emotion))
	if err != nil {
		e.logger.Warn("pipeline: ability update failed", "error", err.Error())
		updated = sig.ability
	}

	if err := e.costEnforcer.RecordActual(ctx, req.UserID, gen.CostUSD); err != nil {
		e.logger.Warn("pipeline: cost tally failed", "error", err.Error())
	}

	return Response{
		SessionID:          sessionID,
		AssistantMessageID: assistantMsgID,
		Content:            gen.Text,
		Emotion:            sig.emotion,
		Provider:           gen.ProviderID,
		LatencyMs:          gen.LatencyMs,
		Tokens:             gen.InTokens + gen.OutTokens,
		CostUSD:            gen.CostUSD,
		AbilityUpdated:     updated,
	}, nil
}

// toEngineErr maps C14's cost.ExhaustedError onto the shared engineerr
// taxonomy so callers only need to switch on one error family (§7).
func toEngineErr(err error) error {
	var ex *cost.ExhaustedError
	if errors.As(err, &ex) {
		return &engineerr.BudgetExhausted{BudgetUSD: ex.BudgetUSD, SpentUSD: ex.SpentUSD, Period: ex.Period}
	}
	return err
}
