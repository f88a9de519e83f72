package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// DurableStore is the pooled MySQL-backed relational store for
// thumbs-up promoted interactions and thumbs-down negative feedback.
// Rows here have no expiry; the ephemeral tier is the only one that
// ages out.
type DurableStore struct {
	db *sql.DB
}

// NewDurableStore opens a pooled connection to dsn (a go-sql-driver/mysql
// DSN: user:pass@tcp(host:port)/dbname) sized by poolSize, migrates the
// schema, and pings to fail fast on a dead database.
func NewDurableStore(ctx context.Context, dsn string, poolSize int) (*DurableStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if poolSize <= 0 {
		poolSize = 10
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &DurableStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *DurableStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interactions (
			interaction_id VARCHAR(128) PRIMARY KEY,
			session_id VARCHAR(128) NOT NULL,
			user_message TEXT NOT NULL,
			final_response TEXT NOT NULL,
			routing_type VARCHAR(32) NOT NULL,
			tools_used TEXT NOT NULL,
			tool_results TEXT NOT NULL,
			llm_payload TEXT,
			llm_response TEXT,
			feedback VARCHAR(16) NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS negative_feedback (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			interaction_id VARCHAR(128) NOT NULL,
			session_id VARCHAR(128) NOT NULL,
			user_message TEXT NOT NULL,
			final_response TEXT NOT NULL,
			routing_type VARCHAR(32) NOT NULL,
			tools_used TEXT NOT NULL,
			reason VARCHAR(255),
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_stats (
			stat_date DATE PRIMARY KEY,
			total_interactions INT NOT NULL DEFAULT 0,
			thumbs_up INT NOT NULL DEFAULT 0,
			thumbs_down INT NOT NULL DEFAULT 0,
			direct_shortcut INT NOT NULL DEFAULT 0,
			llm_with_tools INT NOT NULL DEFAULT 0,
			llm_only INT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// PromoteInteraction inserts in into the durable interactions table.
// Unique on interaction_id: a repeated promotion is a no-op, so
// repeated thumbs_up calls need no explicit existence check.
func (s *DurableStore) PromoteInteraction(ctx context.Context, in toolapi.Interaction) error {
	toolsUsed := strings.Join(in.ToolsUsed, ",")
	toolResults, err := json.Marshal(in.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool_results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO interactions
			(interaction_id, session_id, user_message, final_response, routing_type,
			 tools_used, tool_results, llm_payload, llm_response, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE interaction_id = interaction_id`,
		in.InteractionID, in.SessionID, in.UserMessage, in.FinalResponse, string(in.RoutingType),
		toolsUsed, string(toolResults), in.LLMPayload, in.LLMResponse, string(toolapi.FeedbackThumbsUp), in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return tx.Commit()
}

// RecordNegativeFeedback inserts a negative_feedback row. Called once
// per thumbs_down; repeated calls append additional rows (the table has
// no uniqueness constraint — each thumbs_down is a distinct event,
// unlike the idempotent interactions promotion).
func (s *DurableStore) RecordNegativeFeedback(ctx context.Context, in toolapi.Interaction, reason string) error {
	toolsUsed := strings.Join(in.ToolsUsed, ",")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO negative_feedback
			(interaction_id, session_id, user_message, final_response, routing_type, tools_used, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.InteractionID, in.SessionID, in.UserMessage, in.FinalResponse, string(in.RoutingType), toolsUsed, reason, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert negative_feedback: %w", err)
	}
	return tx.Commit()
}

// GetInteraction looks up a previously promoted interaction by ID, for
// GET /interaction/{session_id}/{interaction_id} when the ephemeral
// entry has already expired or been promoted.
func (s *DurableStore) GetInteraction(ctx context.Context, sessionID, interactionID string) (toolapi.Interaction, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT interaction_id, session_id, user_message, final_response, routing_type,
		       tools_used, tool_results, llm_payload, llm_response, feedback, created_at
		FROM interactions WHERE interaction_id = ? AND session_id = ?`,
		interactionID, sessionID,
	)

	var in toolapi.Interaction
	var toolsUsed, toolResults, routingType, feedback string
	var llmPayload, llmResponse sql.NullString
	if err := row.Scan(&in.InteractionID, &in.SessionID, &in.UserMessage, &in.FinalResponse, &routingType,
		&toolsUsed, &toolResults, &llmPayload, &llmResponse, &feedback, &in.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return toolapi.Interaction{}, false, nil
		}
		return toolapi.Interaction{}, false, fmt.Errorf("query interaction: %w", err)
	}

	in.RoutingType = toolapi.RoutingType(routingType)
	in.Feedback = toolapi.FeedbackState(feedback)
	in.LLMPayload = llmPayload.String
	in.LLMResponse = llmResponse.String
	if toolsUsed != "" {
		in.ToolsUsed = strings.Split(toolsUsed, ",")
	}
	if err := json.Unmarshal([]byte(toolResults), &in.ToolResults); err != nil {
		return toolapi.Interaction{}, false, fmt.Errorf("unmarshal tool_results: %w", err)
	}
	return in, true, nil
}

// Ping reports whether MySQL is currently reachable, for /health.
func (s *DurableStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pooled connections.
func (s *DurableStore) Close() error {
	return s.db.Close()
}
