package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
// It stands in for the document store the spec treats as an external
// collaborator, exposing the collections named in §6.3 as tables.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			weight INTEGER NOT NULL DEFAULT 1,
			max_context_tokens INTEGER NOT NULL DEFAULT 4096,
			input_per_1k REAL NOT NULL DEFAULT 0,
			output_per_1k REAL NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			base_url TEXT NOT NULL DEFAULT '',
			cred_store TEXT NOT NULL DEFAULT 'env'
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			model_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			estimated_cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 200,
			error_class TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_model ON request_logs(model_id)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS routing_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			default_mode TEXT NOT NULL DEFAULT 'normal',
			default_max_budget_usd REAL NOT NULL DEFAULT 0.05,
			default_max_latency_ms INTEGER NOT NULL DEFAULT 20000
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS reward_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT,
			model_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			mode TEXT,
			estimated_tokens INTEGER,
			token_bucket TEXT,
			latency_budget_ms INTEGER,
			latency_ms REAL,
			cost_usd REAL,
			success INTEGER,
			error_class TEXT,
			reward REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_logs_ts ON reward_logs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			cumulative_cost_usd REAL NOT NULL DEFAULT 0,
			cumulative_tokens INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			emotion_snapshot TEXT NOT NULL DEFAULT '',
			embedding TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages(user_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS ability_estimates (
			user_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			theta REAL NOT NULL DEFAULT 0.5,
			confidence REAL NOT NULL DEFAULT 0,
			sample_count INTEGER NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL,
			PRIMARY KEY (user_id, subject)
		)`,
		`CREATE TABLE IF NOT EXISTS ability_update_log (
			message_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			PRIMARY KEY (message_id, subject)
		)`,
		`CREATE TABLE IF NOT EXISTS provider_health (
			provider_id TEXT PRIMARY KEY,
			success_rate REAL NOT NULL DEFAULT 1,
			p50_latency_ms REAL NOT NULL DEFAULT 0,
			p95_latency_ms REAL NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			circuit_state TEXT NOT NULL DEFAULT 'CLOSED',
			last_error_ts TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS benchmarks (
			provider_id TEXT PRIMARY KEY,
			per_category_scores TEXT NOT NULL DEFAULT '{}',
			refreshed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cost_ledger (
			user_id TEXT NOT NULL,
			period TEXT NOT NULL,
			spent_usd REAL NOT NULL DEFAULT 0,
			window_start TEXT NOT NULL,
			PRIMARY KEY (user_id, period)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Models

func (s *SQLiteStore) ListModels(ctx context.Context) ([]ModelRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, weight, max_context_tokens, input_per_1k, output_per_1k, enabled FROM models`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var models []ModelRecord
	for rows.Next() {
		var m ModelRecord
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.Weight, &m.MaxContextTokens, &m.InputPer1K, &m.OutputPer1K, &m.Enabled); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (*ModelRecord, error) {
	var m ModelRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, weight, max_context_tokens, input_per_1k, output_per_1k, enabled FROM models WHERE id = ?`, id).
		Scan(&m.ID, &m.ProviderID, &m.Weight, &m.MaxContextTokens, &m.InputPer1K, &m.OutputPer1K, &m.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) UpsertModel(ctx context.Context, m ModelRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (id, provider_id, weight, max_context_tokens, input_per_1k, output_per_1k, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   provider_id=excluded.provider_id,
		   weight=excluded.weight,
		   max_context_tokens=excluded.max_context_tokens,
		   input_per_1k=excluded.input_per_1k,
		   output_per_1k=excluded.output_per_1k,
		   enabled=excluded.enabled`,
		m.ID, m.ProviderID, m.Weight, m.MaxContextTokens, m.InputPer1K, m.OutputPer1K, m.Enabled)
	return err
}

func (s *SQLiteStore) DeleteModel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	return err
}

// Providers

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, enabled, base_url, cred_store FROM providers`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var providers []ProviderRecord
	for rows.Next() {
		var p ProviderRecord
		if err := rows.Scan(&p.ID, &p.Type, &p.Enabled, &p.BaseURL, &p.CredStore); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p ProviderRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (id, type, enabled, base_url, cred_store)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   type=excluded.type,
		   enabled=excluded.enabled,
		   base_url=excluded.base_url,
		   cred_store=excluded.cred_store`,
		p.ID, p.Type, p.Enabled, p.BaseURL, p.CredStore)
	return err
}

func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	return err
}

// Request Logs

func (s *SQLiteStore) LogRequest(ctx context.Context, entry RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (timestamp, model_id, provider_id, mode, estimated_cost_usd, latency_ms, status_code, error_class, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.ModelID, entry.ProviderID, entry.Mode,
		entry.EstimatedCostUSD, entry.LatencyMs, entry.StatusCode, entry.ErrorClass, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListRequestLogs(ctx context.Context, limit int, offset int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, model_id, provider_id, mode, estimated_cost_usd, latency_ms, status_code, error_class, request_id
		 FROM request_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []RequestLog
	for rows.Next() {
		var l RequestLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.ModelID, &l.ProviderID, &l.Mode,
			&l.EstimatedCostUSD, &l.LatencyMs, &l.StatusCode, &l.ErrorClass, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}

// Routing Config

func (s *SQLiteStore) SaveRoutingConfig(ctx context.Context, cfg RoutingConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_config (id, default_mode, default_max_budget_usd, default_max_latency_ms)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   default_mode=excluded.default_mode,
		   default_max_budget_usd=excluded.default_max_budget_usd,
		   default_max_latency_ms=excluded.default_max_latency_ms`,
		cfg.DefaultMode, cfg.DefaultMaxBudgetUSD, cfg.DefaultMaxLatencyMs)
	return err
}

func (s *SQLiteStore) LoadRoutingConfig(ctx context.Context) (RoutingConfig, error) {
	var cfg RoutingConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT default_mode, default_max_budget_usd, default_max_latency_ms FROM routing_config WHERE id = 1`).
		Scan(&cfg.DefaultMode, &cfg.DefaultMaxBudgetUSD, &cfg.DefaultMaxLatencyMs)
	if err != nil {
		// Return zero value if no row (not an error).
		return RoutingConfig{}, nil
	}
	return cfg, nil
}

// Audit Logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Reward Logs

func (s *SQLiteStore) LogReward(ctx context.Context, entry RewardEntry) error {
	successInt := 0
	if entry.Success {
		successInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_logs (timestamp, request_id, model_id, provider_id, mode,
		 estimated_tokens, token_bucket, latency_budget_ms, latency_ms, cost_usd,
		 success, error_class, reward)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.RequestID, entry.ModelID, entry.ProviderID, entry.Mode,
		entry.EstimatedTokens, entry.TokenBucket, entry.LatencyBudgetMs, entry.LatencyMs,
		entry.CostUSD, successInt, entry.ErrorClass, entry.Reward)
	return err
}

func (s *SQLiteStore) ListRewards(ctx context.Context, limit int, offset int) ([]RewardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, model_id, provider_id, mode,
		 estimated_tokens, token_bucket, latency_budget_ms, latency_ms, cost_usd,
		 success, error_class, reward
		 FROM reward_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []RewardEntry
	for rows.Next() {
		var l RewardEntry
		var ts string
		var successInt int
		if err := rows.Scan(&l.ID, &ts, &l.RequestID, &l.ModelID, &l.ProviderID, &l.Mode,
			&l.EstimatedTokens, &l.TokenBucket, &l.LatencyBudgetMs, &l.LatencyMs,
			&l.CostUSD, &successInt, &l.ErrorClass, &l.Reward); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		l.Success = successInt != 0
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) GetRewardSummary(ctx context.Context) ([]RewardSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, token_bucket,
		 COUNT(*) as count,
		 SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) as successes,
		 SUM(reward) as sum_reward
		 FROM reward_logs
		 GROUP BY model_id, token_bucket`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var summaries []RewardSummary
	for rows.Next() {
		var s RewardSummary
		if err := rows.Scan(&s.ModelID, &s.TokenBucket, &s.Count, &s.Successes, &s.SumReward); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Sessions

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, last_activity, message_count, cumulative_cost_usd, cumulative_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.UserID, sess.CreatedAt.UTC().Format(time.RFC3339), sess.LastActivity.UTC().Format(time.RFC3339),
		sess.MessageCount, sess.CumulativeCostUSD, sess.CumulativeTokens)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var created, last string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, last_activity, message_count, cumulative_cost_usd, cumulative_tokens
		 FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &created, &last, &sess.MessageCount, &sess.CumulativeCostUSD, &sess.CumulativeTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, created)
	sess.LastActivity, _ = time.Parse(time.RFC3339, last)
	return &sess, nil
}

// TouchSession bumps last_activity and message_count/cost/token totals by one
// message. Used on every exit path of the pipeline so session aggregates stay
// current without a separate read-modify-write race.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, lastActivity time.Time, addCostUSD float64, addTokens int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET
		   last_activity = ?,
		   message_count = message_count + 1,
		   cumulative_cost_usd = cumulative_cost_usd + ?,
		   cumulative_tokens = cumulative_tokens + ?
		 WHERE id = ?`,
		lastActivity.UTC().Format(time.RFC3339), addCostUSD, addTokens, id)
	return err
}

// Messages

func (s *SQLiteStore) InsertMessage(ctx context.Context, m Message) error {
	var embeddingJSON string
	if len(m.Embedding) > 0 {
		b, err := json.Marshal(m.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		embeddingJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, user_id, role, content, timestamp, emotion_snapshot, embedding, provider, latency_ms, token_count, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.UserID, m.Role, m.Content, m.Timestamp.UTC().Format(time.RFC3339Nano),
		m.EmotionSnapshot, embeddingJSON, m.Provider, m.LatencyMs, m.TokenCount, m.CostUSD)
	return err
}

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	var ts, embeddingJSON string
	err := row.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &ts,
		&m.EmotionSnapshot, &embeddingJSON, &m.Provider, &m.LatencyMs, &m.TokenCount, &m.CostUSD)
	if err != nil {
		return m, err
	}
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	if embeddingJSON != "" {
		_ = json.Unmarshal([]byte(embeddingJSON), &m.Embedding)
	}
	return m, nil
}

// RecentMessages returns the last `limit` messages in the session strictly
// before beforeTimestamp, in chronological ascending order (C5 "recent").
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, beforeTimestamp time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, role, content, timestamp, emotion_snapshot, embedding, provider, latency_ms, token_count, cost_usd
		 FROM messages WHERE session_id = ? AND timestamp < ?
		 ORDER BY timestamp DESC LIMIT ?`,
		sessionID, beforeTimestamp.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to chronological ascending
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesWithEmbeddings returns every message with a stored embedding that
// is a candidate for semantic relevance ranking (C5 "relevant"), scoped to
// the session or, when scope == "user", to the whole user history.
func (s *SQLiteStore) MessagesWithEmbeddings(ctx context.Context, sessionID, userID string, scope string, beforeTimestamp time.Time) ([]Message, error) {
	var rows *sql.Rows
	var err error
	if scope == "user" && userID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, session_id, user_id, role, content, timestamp, emotion_snapshot, embedding, provider, latency_ms, token_count, cost_usd
			 FROM messages WHERE user_id = ? AND timestamp < ? AND embedding != ''
			 ORDER BY timestamp ASC`,
			userID, beforeTimestamp.UTC().Format(time.RFC3339Nano))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, session_id, user_id, role, content, timestamp, emotion_snapshot, embedding, provider, latency_ms, token_count, cost_usd
			 FROM messages WHERE session_id = ? AND timestamp < ? AND embedding != ''
			 ORDER BY timestamp ASC`,
			sessionID, beforeTimestamp.UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Ability estimates

func (s *SQLiteStore) GetAbility(ctx context.Context, userID, subject string) (*AbilityEstimate, error) {
	var a AbilityEstimate
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, subject, theta, confidence, sample_count, last_updated
		 FROM ability_estimates WHERE user_id = ? AND subject = ?`, userID, subject).
		Scan(&a.UserID, &a.Subject, &a.Theta, &a.Confidence, &a.SampleCount, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.LastUpdated, _ = time.Parse(time.RFC3339, updated)
	return &a, nil
}

func (s *SQLiteStore) SaveAbility(ctx context.Context, a AbilityEstimate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ability_estimates (user_id, subject, theta, confidence, sample_count, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, subject) DO UPDATE SET
		   theta=excluded.theta,
		   confidence=excluded.confidence,
		   sample_count=excluded.sample_count,
		   last_updated=excluded.last_updated`,
		a.UserID, a.Subject, a.Theta, a.Confidence, a.SampleCount, a.LastUpdated.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) WasAbilityUpdateApplied(ctx context.Context, messageID, subject string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ability_update_log WHERE message_id = ? AND subject = ?`, messageID, subject).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordAbilityUpdateApplied(ctx context.Context, messageID, subject string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ability_update_log (message_id, subject, applied_at) VALUES (?, ?, ?)
		 ON CONFLICT(message_id, subject) DO NOTHING`,
		messageID, subject, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Provider health

func (s *SQLiteStore) SaveProviderHealth(ctx context.Context, h ProviderHealthRecord) error {
	var lastErr any
	if !h.LastErrorAt.IsZero() {
		lastErr = h.LastErrorAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_health (provider_id, success_rate, p50_latency_ms, p95_latency_ms, consecutive_failures, circuit_state, last_error_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider_id) DO UPDATE SET
		   success_rate=excluded.success_rate,
		   p50_latency_ms=excluded.p50_latency_ms,
		   p95_latency_ms=excluded.p95_latency_ms,
		   consecutive_failures=excluded.consecutive_failures,
		   circuit_state=excluded.circuit_state,
		   last_error_ts=excluded.last_error_ts`,
		h.ProviderID, h.SuccessRate, h.P50LatencyMs, h.P95LatencyMs, h.ConsecFailures, h.CircuitState, lastErr)
	return err
}

func (s *SQLiteStore) LoadProviderHealth(ctx context.Context) ([]ProviderHealthRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, success_rate, p50_latency_ms, p95_latency_ms, consecutive_failures, circuit_state, last_error_ts FROM provider_health`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ProviderHealthRecord
	for rows.Next() {
		var h ProviderHealthRecord
		var lastErr sql.NullString
		if err := rows.Scan(&h.ProviderID, &h.SuccessRate, &h.P50LatencyMs, &h.P95LatencyMs, &h.ConsecFailures, &h.CircuitState, &lastErr); err != nil {
			return nil, err
		}
		if lastErr.Valid {
			h.LastErrorAt, _ = time.Parse(time.RFC3339, lastErr.String)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Benchmarks

func (s *SQLiteStore) SaveBenchmark(ctx context.Context, b BenchmarkRecord) error {
	scoresJSON, err := json.Marshal(b.PerCategoryScores)
	if err != nil {
		return fmt.Errorf("marshal benchmark scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO benchmarks (provider_id, per_category_scores, refreshed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(provider_id) DO UPDATE SET
		   per_category_scores=excluded.per_category_scores,
		   refreshed_at=excluded.refreshed_at`,
		b.ProviderID, string(scoresJSON), b.RefreshedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) LoadBenchmarks(ctx context.Context) ([]BenchmarkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider_id, per_category_scores, refreshed_at FROM benchmarks`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []BenchmarkRecord
	for rows.Next() {
		var b BenchmarkRecord
		var scoresJSON, refreshed string
		if err := rows.Scan(&b.ProviderID, &scoresJSON, &refreshed); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(scoresJSON), &b.PerCategoryScores)
		b.RefreshedAt, _ = time.Parse(time.RFC3339, refreshed)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Cost ledger

func (s *SQLiteStore) GetCostLedger(ctx context.Context, userID, period string) (*CostLedgerEntry, error) {
	var e CostLedgerEntry
	var windowStart string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, period, spent_usd, window_start FROM cost_ledger WHERE user_id = ? AND period = ?`,
		userID, period).Scan(&e.UserID, &e.Period, &e.SpentUSD, &windowStart)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.WindowStart, _ = time.Parse(time.RFC3339, windowStart)
	return &e, nil
}

// AddCost atomically increments the ledger row for (user, period), resetting
// the tally if the persisted window has rolled over. This is the post-flight
// half of C14's "atomic compare-and-add" discipline; the pre-flight read
// that guards it is eventually consistent by design (§4.14).
func (s *SQLiteStore) AddCost(ctx context.Context, userID, period string, windowStart time.Time, deltaUSD float64) (*CostLedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var spent float64
	var existingWindow string
	err = tx.QueryRowContext(ctx,
		`SELECT spent_usd, window_start FROM cost_ledger WHERE user_id = ? AND period = ?`, userID, period).
		Scan(&spent, &existingWindow)

	windowStr := windowStart.UTC().Format(time.RFC3339)
	switch {
	case err == sql.ErrNoRows:
		spent = deltaUSD
	case err != nil:
		return nil, err
	default:
		parsedWindow, _ := time.Parse(time.RFC3339, existingWindow)
		if parsedWindow.Before(windowStart) {
			spent = deltaUSD // window rolled over, reset tally
		} else {
			spent += deltaUSD
			windowStr = existingWindow
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cost_ledger (user_id, period, spent_usd, window_start) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, period) DO UPDATE SET spent_usd=excluded.spent_usd, window_start=excluded.window_start`,
		userID, period, spent, windowStr); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ws, _ := time.Parse(time.RFC3339, windowStr)
	return &CostLedgerEntry{UserID: userID, Period: period, SpentUSD: spent, WindowStart: ws}, nil
}

// Log retention

func (s *SQLiteStore) PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n1, _ := res.RowsAffected()
	res2, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return n1, err
	}
	n2, _ := res2.RowsAffected()
	return n1 + n2, nil
}
