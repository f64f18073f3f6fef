// Package convo implements C5: assembling the bounded conversational context
// (recent + semantically relevant messages) handed to the prompt builder.
package convo

import "time"

// Message is one turn pulled into an assembled context.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
	// Similarity is the cosine similarity to the current message's
	// embedding. Zero for messages included via the recency window rather
	// than semantic relevance.
	Similarity float32
}

// Context is the bounded result of assembly: the recent window followed by
// any additional semantically relevant messages not already present in it.
type Context struct {
	Recent    []Message
	Relevant  []Message
	TokenCost int
}

// Scope controls where relevant-message search looks.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeUser    Scope = "user"
)

// Config bounds a single Assemble call (§4.5, §6.4).
type Config struct {
	RecentLimit   int
	RelevantLimit int
	TokenBudget   int
	Scope         Scope
}

func (c Config) withDefaults() Config {
	if c.RecentLimit <= 0 {
		c.RecentLimit = 10
	}
	if c.RelevantLimit <= 0 {
		c.RelevantLimit = 5
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 2000
	}
	if c.Scope == "" {
		c.Scope = ScopeSession
	}
	return c
}
