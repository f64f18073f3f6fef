package convo

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/jordanhubbard/learncompanion/internal/store"
)

// Assembler is C5: it builds the bounded recent+relevant message set handed
// to the prompt builder, deterministic given the same store snapshot and
// inputs.
type Assembler struct {
	db  store.Store
	cfg Config
}

// NewAssembler wraps a document store as C5's context assembler.
func NewAssembler(db store.Store, cfg Config) *Assembler {
	return &Assembler{db: db, cfg: cfg.withDefaults()}
}

// Assemble builds the context for one pipeline pass. queryEmbedding is the
// embedding of the current user message, computed upstream by the same
// embedder used to store each message's embedding; it may be nil, in which
// case the relevant set is empty.
func (a *Assembler) Assemble(ctx context.Context, sessionID, userID string, now time.Time, queryEmbedding []float32, scope Scope) (Context, error) {
	cfg := a.cfg
	if scope != "" {
		cfg.Scope = scope
	}

	recentRecords, err := a.db.RecentMessages(ctx, sessionID, now, cfg.RecentLimit)
	if err != nil {
		return Context{}, err
	}
	recent := toMessages(recentRecords)

	var relevant []Message
	if len(queryEmbedding) > 0 {
		candidates, err := a.db.MessagesWithEmbeddings(ctx, sessionID, userID, string(cfg.Scope), now)
		if err != nil {
			return Context{}, err
		}
		relevant = rankRelevant(candidates, queryEmbedding, recentRecords, cfg.RelevantLimit)
	}

	return fitToBudget(recent, relevant, cfg.TokenBudget), nil
}

func toMessages(records []store.Message) []Message {
	out := make([]Message, 0, len(records))
	for _, r := range records {
		out = append(out, Message{Role: r.Role, Content: r.Content, Timestamp: r.Timestamp})
	}
	return out
}

// rankRelevant scores candidates by cosine similarity to queryEmbedding,
// excludes anything already present in the recent window (deduplication),
// and returns the top relevantLimit by descending similarity.
func rankRelevant(candidates []store.Message, queryEmbedding []float32, recent []store.Message, relevantLimit int) []Message {
	excluded := make(map[string]bool, len(recent))
	for _, r := range recent {
		excluded[r.ID] = true
	}

	type scored struct {
		msg   store.Message
		score float32
	}
	var pool []scored
	for _, c := range candidates {
		if excluded[c.ID] || len(c.Embedding) == 0 {
			continue
		}
		pool = append(pool, scored{msg: c, score: cosineSimilarity(queryEmbedding, c.Embedding)})
	}

	// §4.5: descending by similarity, then ascending by age (more recent
	// first) at ties. Scores are float32 cosine similarities, so treat
	// values within a small epsilon as tied rather than requiring bit-exact
	// equality.
	const scoreEpsilon = 1e-6
	sort.SliceStable(pool, func(i, j int) bool {
		diff := pool[i].score - pool[j].score
		if diff > scoreEpsilon || diff < -scoreEpsilon {
			return pool[i].score > pool[j].score
		}
		return pool[i].msg.Timestamp.After(pool[j].msg.Timestamp)
	})
	if len(pool) > relevantLimit {
		pool = pool[:relevantLimit]
	}

	out := make([]Message, 0, len(pool))
	for _, p := range pool {
		out = append(out, Message{Role: p.msg.Role, Content: p.msg.Content, Timestamp: p.msg.Timestamp, Similarity: p.score})
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}

// estimateTokens mirrors the router's EstimateTokens heuristic (~4 chars per
// token) so token-budget arithmetic stays consistent across packages.
func estimateTokens(content string) int {
	return len(content) / 4
}

// fitToBudget drops the oldest recent messages first when the assembled
// context would exceed the token budget, per §4.5's trim order: relevant
// messages are kept in full priority over extra recency since they were
// already filtered down to the top relevantLimit.
func fitToBudget(recent, relevant []Message, budget int) Context {
	cost := 0
	for _, m := range relevant {
		cost += estimateTokens(m.Content)
	}

	start := 0
	kept := 0
	for i := len(recent) - 1; i >= 0; i-- {
		t := estimateTokens(recent[i].Content)
		if cost+t > budget {
			break
		}
		cost += t
		kept++
		start = i
	}
	trimmedRecent := recent[start:]
	if kept == 0 {
		trimmedRecent = nil
	}

	return Context{Recent: trimmedRecent, Relevant: relevant, TokenCost: cost}
}
