// Package store is the shared PostgreSQL state every process agrees on:
// which node owns which live connection, and per-project plan limits and
// registered webhooks. It is the only mutable state shared between
// processes besides the Redis counters and channels.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"

	"github.com/wosherco/socketless/internal/webhook"
)

// ErrProjectNotFound is returned when a token references a project that does
// not exist.
var ErrProjectNotFound = errors.New("project not found")

// Store wraps the database connection.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// New opens a pooled connection and verifies it.
func New(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health checks the database connection.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// CreateConnection registers a live connection as owned by node. Returns the
// record id used to delete it on close.
func (s *Store) CreateConnection(ctx context.Context, projectID int64, identifier, node string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO connections (project_id, identifier, node, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id`,
		projectID, identifier, node,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create connection record: %w", err)
	}
	return id, nil
}

// DeleteConnection removes one connection record. Deleting a record that is
// already gone is not an error; the close path must stay idempotent.
func (s *Store) DeleteConnection(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete connection record %d: %w", id, err)
	}
	return nil
}

// DeleteNodeConnections removes every record owned by a node. The reaper
// calls this when a node stops answering heartbeats.
func (s *Store) DeleteNodeConnections(ctx context.Context, node string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE node = $1`, node)
	if err != nil {
		return 0, fmt.Errorf("delete connections for node %s: %w", node, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete connections for node %s: %w", node, err)
	}
	return n, nil
}

// Nodes returns the distinct node names currently claimed by connection
// records.
func (s *Store) Nodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT node FROM connections`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []string
	for rows.Next() {
		var node string
		if err := rows.Scan(&node); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// ProjectConfig loads a project's plan limits and registered webhooks. It
// implements webhook.ConfigSource; the gateway reads it through the 60s
// cache, never directly per event.
func (s *Store) ProjectConfig(ctx context.Context, projectID int64) (*webhook.ProjectConfig, error) {
	cfg := &webhook.ProjectConfig{ProjectID: projectID}

	err := s.db.QueryRowContext(ctx, `
		SELECT max_connections, max_incoming_messages, max_outgoing_messages
		FROM projects WHERE id = $1`,
		projectID,
	).Scan(&cfg.MaxConnections, &cfg.MaxIncomingMessages, &cfg.MaxOutgoingMessages)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", projectID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT url, secret, send_on_connect, send_on_message, send_on_disconnect
		FROM project_webhooks WHERE project_id = $1`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("load project %d webhooks: %w", projectID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var wh webhook.SimpleWebhook
		opts := &webhook.Options{}
		if err := rows.Scan(&wh.URL, &wh.Secret, &opts.SendOnConnect, &opts.SendOnMessage, &opts.SendOnDisconnect); err != nil {
			return nil, fmt.Errorf("scan project %d webhook: %w", projectID, err)
		}
		wh.Options = opts
		cfg.Webhooks = append(cfg.Webhooks, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load project %d webhooks: %w", projectID, err)
	}

	return cfg, nil
}
