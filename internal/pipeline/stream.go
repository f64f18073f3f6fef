package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/budget"
	"github.com/jordanhubbard/learncompanion/internal/cost"
	"github.com/jordanhubbard/learncompanion/internal/difficulty"
	"github.com/jordanhubbard/learncompanion/internal/engineerr"
	"github.com/jordanhubbard/learncompanion/internal/prompt"
	"github.com/jordanhubbard/learncompanion/internal/store"
	"github.com/jordanhubbard/learncompanion/internal/stream"
)

// StreamRequest is §6.2's chat_stream payload.
type StreamRequest struct {
	MessageID string
	SessionID string
	UserID    string
	Message   string
	Subject   string
}

// ProcessStream implements §4.12's streaming entry point. It registers with
// C13, emits every event on the registration's channel, and deregisters on
// every exit path (§4.13). The caller (the transport layer) drains
// reg.Events until a terminal event arrives.
func (e *Engine) ProcessStream(ctx context.Context, req StreamRequest) *stream.Registration {
	reg := e.registry.Register(req.MessageID, req.SessionID, req.UserID, 64)
	go e.runStream(ctx, req, reg)
	return reg
}

func (e *Engine) runStream(ctx context.Context, req StreamRequest, reg *stream.Registration) {
	defer e.registry.Deregister(req.MessageID)

	subject := req.Subject
	if subject == "" {
		subject = "general"
	}

	sessionID, err := e.ensureSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		e.emitError(ctx, reg, engineerr.CodeDatabaseError, "failed to load session", false, "")
		return
	}

	userMsgID := newID()
	now := time.Now()
	if err := e.db.InsertMessage(ctx, store.Message{
		ID: userMsgID, SessionID: sessionID, UserID: req.UserID,
		Role: "user", Content: req.Message, Timestamp: now,
	}); err != nil {
		e.emitError(ctx, reg, engineerr.CodeDatabaseError, "failed to persist message", false, "")
		return
	}

	category := deriveCategory(subject, req.Message)
	candidates := e.buildCandidates()
	providerMax := maxCandidateContext(candidates)

	sig := e.gatherSignals(ctx, req.UserID, sessionID, subject, req.Message)
	level := difficulty.Select(nil, sig.ability.Theta, sig.ability.SampleCount, sig.emotion.CognitiveLoad, sig.emotion.FlowState, sig.emotion.LearningReadiness)
	tb := budget.Allocate(req.Message, sig.emotion, sig.ability, providerMax, e.cfg.BudgetClamps)

	sel, err := e.selector.Select(category, "", tb.Total, candidates)
	if err != nil {
		e.emitError(ctx, reg, engineerr.CodeProviderUnavailable, "no provider available", false, "")
		return
	}

	assistantMsgID := newID()
	reg.Emit(ctx, stream.Event{
		Type:        stream.EventStreamStart,
		AIMessageID: assistantMsgID,
		Provider:    sel.Primary().ID,
		Category:    category,
	})

	if reg.Cancelled() {
		e.emitStopped(ctx, reg, assistantMsgID, stream.ReasonUserCancelled, "", 0)
		return
	}

	reg.Emit(ctx, stream.Event{Type: stream.EventContextInfo, RecentMessagesUsed: len(sig.context.Recent), RelevantMessagesUsed: len(sig.context.Relevant)})
	reg.Emit(ctx, stream.Event{Type: stream.EventEmotionUpdate, Emotion: sig.emotion})

	promptStr := prompt.Build(prompt.Input{
		Subject: subject, Ability: sig.ability, Emotion: sig.emotion,
		Difficulty: level, Context: sig.context, Budget: tb, Message: req.Message,
	})

	projectedCost := (float64(tb.Total) / 1000.0) * sel.Primary().CostPer1KTokens
	if err := e.costEnforcer.CheckPreflight(ctx, req.UserID, projectedCost); err != nil {
		var exhausted *cost.ExhaustedError
		if errors.As(err, &exhausted) {
			e.emitError(ctx, reg, engineerr.CodeBudgetExhausted, "spending limit reached for this period", false, "")
		} else {
			e.emitError(ctx, reg, engineerr.CodeDatabaseError, "failed to check spending limit", true, "")
		}
		return
	}

	if reg.Cancelled() {
		e.emitStopped(ctx, reg, assistantMsgID, stream.ReasonUserCancelled, "", 0)
		return
	}

	streamStart := time.Now()
	gen, err := e.generate(ctx, sel, promptStr, tb, category)
	if err != nil {
		e.emitError(ctx, reg, engineerr.CodeProviderUnavailable, "the AI provider is currently unavailable", true, "")
		return
	}

	// Fallback-adapter chunking (§4.9): the provider already returned full
	// text, so pace it out as fixed-size slices for a uniform client UX.
	accumulated := e.chunkOut(ctx, reg, gen.Text)
	if accumulated.cancelled {
		e.emitStopped(ctx, reg, assistantMsgID, stream.ReasonUserCancelled, accumulated.text, time.Since(streamStart).Milliseconds())
		return
	}

	completedAt := time.Now()
	emotionJSON, _ := json.Marshal(sig.emotion)
	if err := e.db.InsertMessage(ctx, store.Message{
		ID: assistantMsgID, SessionID: sessionID, UserID: req.UserID,
		Role: "assistant", Content: gen.Text, Timestamp: completedAt,
		EmotionSnapshot: string(emotionJSON), Provider: gen.ProviderID,
		LatencyMs: gen.LatencyMs, TokenCount: gen.InTokens + gen.OutTokens, CostUSD: gen.CostUSD,
	}); err != nil {
		e.logger.Error("pipeline: persist assistant message failed", "error", err.Error())
	}
	_ = e.db.TouchSession(ctx, sessionID, completedAt, gen.CostUSD, int64(gen.InTokens+gen.OutTokens))

	b, a := difficultyToIRT(level)
	updated, uerr := e.abilityStore.Update(ctx, req.UserID, subject, assistantMsgID, b, a, inferOutcome(sig.emotion))
	if uerr != nil {
		e.logger.Warn("pipeline: ability update failed", "error", uerr.Error())
		updated = sig.ability
	}
	if err := e.costEnforcer.RecordActual(ctx, req.UserID, gen.CostUSD); err != nil {
		e.logger.Warn("pipeline: cost tally failed", "error", err.Error())
	}

	reg.Emit(ctx, stream.Event{
		Type:           stream.EventStreamComplete,
		AIMessageID:    assistantMsgID,
		FullContent:    gen.Text,
		ResponseTimeMs: time.Since(streamStart).Milliseconds(),
		TokensUsed:     gen.InTokens + gen.OutTokens,
		CostUSD:        gen.CostUSD,
		AbilityUpdated: updated,
	})
}

type chunkResult struct {
	text      string
	cancelled bool
}

// chunkOut slices full text into fixed-size content_chunk events, checking
// cancellation before each one (§4.13's suspension-point discipline, §8
// property 5: "at most one further content_chunk emitted after cancel").
func (e *Engine) chunkOut(ctx context.Context, reg *stream.Registration, text string) chunkResult {
	var sb strings.Builder
	runes := []rune(text)
	size := e.cfg.ChunkSize

	for i := 0; i < len(runes); i += size {
		if reg.Cancelled() {
			return chunkResult{text: sb.String(), cancelled: true}
		}
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[i:end])
		sb.WriteString(chunk)
		reg.Emit(ctx, stream.Event{
			Type:       stream.EventContentChunk,
			Content:    chunk,
			ChunkIndex: reg.NextChunkIndex(),
			IsCode:     strings.Contains(chunk, "```"),
		})
		if e.cfg.ChunkPacing > 0 {
			select {
			case <-time.After(e.cfg.ChunkPacing):
			case <-ctx.Done():
				return chunkResult{text: sb.String(), cancelled: true}
			}
		}
	}
	return chunkResult{text: sb.String(), cancelled: false}
}

func (e *Engine) emitError(ctx context.Context, reg *stream.Registration, code engineerr.Code, msg string, recoverable bool, partial string) {
	reg.Emit(ctx, stream.Event{
		Type:         stream.EventStreamError,
		ErrorCode:    string(code),
		ErrorMessage: msg,
		Recoverable:  recoverable,
		Content:      partial,
	})
}

func (e *Engine) emitStopped(ctx context.Context, reg *stream.Registration, aiMsgID string, reason stream.StopReason, partial string, stoppedAtMs int64) {
	reg.Emit(ctx, stream.Event{
		Type:           stream.EventGenerationStopped,
		AIMessageID:    aiMsgID,
		Reason:         reason,
		PartialContent: partial,
		StoppedAtMs:    stoppedAtMs,
	})
}

// Cancel cancels an in-flight stream on behalf of userID (§4.13,
// stop_generation in §6.2).
func (e *Engine) Cancel(userID, messageID string) {
	e.registry.Cancel(userID, messageID)
}
