package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jordanhubbard/learncompanion/internal/engineerr"
	"github.com/jordanhubbard/learncompanion/internal/pipeline"
)

// CompanionChatRequest is §6.1's non-streaming request envelope.
type CompanionChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Subject   string `json:"subject,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

// CompanionChatResponse is §6.1's non-streaming response envelope.
type CompanionChatResponse struct {
	SessionID          string  `json:"session_id"`
	AssistantMessageID string  `json:"assistant_message_id"`
	Content            string  `json:"content"`
	Emotion            any     `json:"emotion"`
	Provider           string  `json:"provider"`
	LatencyMs          int64   `json:"latency_ms"`
	Tokens             int     `json:"tokens"`
	CostUSD            float64 `json:"cost"`
	AbilityUpdated     any     `json:"ability_updated"`
}

// companionUserID reads the trusted external user_id off the request, per
// the upstream-auth contract documented for this package (an API gateway or
// reverse proxy establishes identity and forwards it as X-User-ID; this
// service never authenticates end users itself).
func companionUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// CompanionChatHandler serves the non-streaming companion chat endpoint,
// driving C12's Process entry point.
func CompanionChatHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := companionUserID(r)
		if userID == "" {
			jsonError(w, "missing X-User-ID", http.StatusUnauthorized)
			return
		}

		var req CompanionChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			jsonError(w, "message required", http.StatusBadRequest)
			return
		}

		resp, err := d.Companion.Process(r.Context(), pipeline.Request{
			UserID:             userID,
			SessionID:          req.SessionID,
			Message:            req.Message,
			Subject:            req.Subject,
			MaxTokens:          req.MaxTokens,
			ProviderPreference: req.Provider,
		})
		if err != nil {
			writeCompanionError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(CompanionChatResponse{
			SessionID:          resp.SessionID,
			AssistantMessageID: resp.AssistantMessageID,
			Content:            resp.Content,
			Emotion:            resp.Emotion,
			Provider:           resp.Provider,
			LatencyMs:          resp.LatencyMs,
			Tokens:             resp.Tokens,
			CostUSD:            resp.CostUSD,
			AbilityUpdated:     resp.AbilityUpdated,
		})
	}
}

// writeCompanionError maps a pipeline error onto the §7 wire error taxonomy.
func writeCompanionError(w http.ResponseWriter, err error) {
	code, msg, _ := engineerr.Classify(err)
	status := http.StatusInternalServerError
	switch code {
	case engineerr.CodeBudgetExhausted:
		status = http.StatusPaymentRequired
	case engineerr.CodeProviderUnavailable:
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code":    code,
		"error_message": msg,
	})
}

// CompanionStreamRequest is §6.2's chat_stream request envelope.
type CompanionStreamRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Subject   string `json:"subject,omitempty"`
}

// CompanionStreamHandler serves the streaming companion chat endpoint over
// Server-Sent Events, driving C12's ProcessStream entry point and C13's
// cancellation registry. The registration's message_id is echoed back as the
// SSE "id:" field so a client can later issue stop_generation against it.
func CompanionStreamHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := companionUserID(r)
		if userID == "" {
			jsonError(w, "missing X-User-ID", http.StatusUnauthorized)
			return
		}

		var req CompanionStreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			jsonError(w, "message required", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			jsonError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		messageID := middleware.GetReqID(r.Context())
		if messageID == "" {
			messageID = fmt.Sprintf("%s-%s", userID, req.SessionID)
		}

		reg := d.Companion.ProcessStream(r.Context(), pipeline.StreamRequest{
			MessageID: messageID,
			SessionID: req.SessionID,
			UserID:    userID,
			Message:   req.Message,
			Subject:   req.Subject,
		})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Message-ID", messageID)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-reg.Events:
				if !open {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					return
				}
				_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", messageID, ev.Type, payload)
				flusher.Flush()
				if ev.IsTerminal() {
					return
				}
			}
		}
	}
}

// CompanionStopRequest is §6.2's stop_generation payload.
type CompanionStopRequest struct {
	MessageID string `json:"message_id"`
}

// CompanionStopHandler implements §6.2's stop_generation: it cancels the
// in-flight stream owned by the caller's X-User-ID for the given message_id.
// Per C13's contract this is a no-op (not an error) if the message_id is
// unknown or owned by a different user, since by the time the request
// arrives the stream may have already completed naturally.
func CompanionStopHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := companionUserID(r)
		if userID == "" {
			jsonError(w, "missing X-User-ID", http.StatusUnauthorized)
			return
		}

		var req CompanionStopRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.MessageID == "" {
			jsonError(w, "message_id required", http.StatusBadRequest)
			return
		}

		d.Companion.Cancel(userID, req.MessageID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}
