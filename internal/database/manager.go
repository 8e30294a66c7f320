package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classchat/internal/logging"
	dbconfig "classchat/pkg/database"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Manager is the SQLite message backend and the default authorization lookup.
// It implements interfaces.MessageBackend, interfaces.AssignmentLookup and
// interfaces.EnrollmentLookup.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	log          zerolog.Logger
}

type writeOperation struct {
	ctx       context.Context
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		log:          logging.L().With().Str(logging.FieldComponent, "database").Logger(),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending migrations and validates the resulting schema.
func (m *Manager) Migrate() error {
	migrations := dbconfig.NewMigrationManager(m.db, dbconfig.MigrationsFS(m.config))
	if err := migrations.ApplyMigrations(); err != nil {
		return err
	}
	if err := dbconfig.NewSchemaValidator(m.db).Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once after
			// the configured delay, unless the caller already gave up
			err := op.operation(m.db)
			if err != nil && !errors.Is(err, interfaces.ErrMessageNotFound) && op.ctx.Err() == nil {
				m.log.Warn().Err(err).Dur("retry_in", m.config.WriteRetryDelay).Msg("database write failed, retrying")
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.log.Error().Err(err).Msg("database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Info().Msg("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerShuttingDown
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerShuttingDown
		}
	}
}

// InsertMessage stores a new message; the AUTOINCREMENT rowid is the message id.
func (m *Manager) InsertMessage(ctx context.Context, msg *types.Message) (int64, error) {
	var id int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO messages (room_id, sender_id, body, kind, reply_to_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.RoomID, msg.SenderID, msg.Body, string(msg.Kind), nullableID(msg.ReplyToID), msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

const messageColumns = `id, room_id, sender_id, body, kind, reply_to_id, created_at, edited_at, is_deleted, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var (
		msg       types.Message
		kind      string
		replyTo   sql.NullInt64
		editedAt  sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Body, &kind, &replyTo,
		&msg.CreatedAt, &editedAt, &msg.IsDeleted, &deletedAt)
	if err != nil {
		return nil, err
	}
	msg.Kind = types.MessageKind(kind)
	if replyTo.Valid {
		id := replyTo.Int64
		msg.ReplyToID = &id
	}
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		msg.DeletedAt = &t
	}
	msg.Reactions = make(map[string][]string)
	msg.ReadBy = []string{}
	return &msg, nil
}

// GetMessage reads a message with its reaction and read sets.
func (m *Manager) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	if err := m.loadSets(ctx, map[int64]*types.Message{msg.ID: msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *Manager) UpdateMessageBody(ctx context.Context, id int64, body string, editedAt time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE messages SET body = ?, edited_at = ? WHERE id = ?`, body, editedAt, id)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		return requireRow(res)
	})
}

func (m *Manager) MarkMessageDeleted(ctx context.Context, id int64, deletedAt time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE messages SET is_deleted = 1, deleted_at = ? WHERE id = ?`, deletedAt, id)
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return requireRow(res)
	})
}

func (m *Manager) AddReaction(ctx context.Context, id int64, emoji, userID string) (bool, error) {
	return m.execChanged(ctx, `
		INSERT OR IGNORE INTO message_reactions (message_id, emoji, user_id, created_at)
		VALUES (?, ?, ?, ?)
	`, id, emoji, userID, time.Now().UTC())
}

func (m *Manager) RemoveReaction(ctx context.Context, id int64, emoji, userID string) (bool, error) {
	return m.execChanged(ctx, `
		DELETE FROM message_reactions WHERE message_id = ? AND emoji = ? AND user_id = ?
	`, id, emoji, userID)
}

func (m *Manager) AddRead(ctx context.Context, id int64, userID string, readAt time.Time) (bool, error) {
	return m.execChanged(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)
	`, id, userID, readAt)
}

// execChanged runs an idempotent set mutation and reports whether a row changed.
func (m *Manager) execChanged(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var changed bool
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to mutate message set: %w", err)
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	return changed, err
}

// ListMessages returns the newest limit messages of a room older than beforeID, ascending.
func (m *Manager) ListMessages(ctx context.Context, roomID string, limit int, beforeID int64) ([]*types.Message, error) {
	// FUNCTIONAL DISCOVERY: Select newest-first to apply LIMIT, then reverse for display order
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_id = ? AND (? <= 0 OR id < ?)
		ORDER BY id DESC
		LIMIT ?
	`, roomID, beforeID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	byID := make(map[int64]*types.Message)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
		byID[msg.ID] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	_ = rows.Close()

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := m.loadSets(ctx, byID); err != nil {
		return nil, err
	}
	return messages, nil
}

// loadSets fills reactions and readers for a batch of messages.
func (m *Manager) loadSets(ctx context.Context, byID map[int64]*types.Message) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]interface{}, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	reactions, err := m.db.QueryContext(ctx,
		`SELECT message_id, emoji, user_id FROM message_reactions WHERE message_id IN (`+in+`) ORDER BY user_id`, ids...)
	if err != nil {
		return fmt.Errorf("failed to query reactions: %w", err)
	}
	for reactions.Next() {
		var id int64
		var emoji, userID string
		if err := reactions.Scan(&id, &emoji, &userID); err != nil {
			_ = reactions.Close()
			return fmt.Errorf("failed to scan reaction: %w", err)
		}
		msg := byID[id]
		msg.Reactions[emoji] = append(msg.Reactions[emoji], userID)
	}
	if err := reactions.Err(); err != nil {
		_ = reactions.Close()
		return err
	}
	_ = reactions.Close()

	reads, err := m.db.QueryContext(ctx,
		`SELECT message_id, user_id FROM message_reads WHERE message_id IN (`+in+`) ORDER BY user_id`, ids...)
	if err != nil {
		return fmt.Errorf("failed to query reads: %w", err)
	}
	defer func() { _ = reads.Close() }()
	for reads.Next() {
		var id int64
		var userID string
		if err := reads.Scan(&id, &userID); err != nil {
			return fmt.Errorf("failed to scan read: %w", err)
		}
		byID[id].ReadBy = append(byID[id].ReadBy, userID)
	}
	return reads.Err()
}

// IsTeacherAssigned reports an active assignment of userID to classID for any subject.
func (m *Manager) IsTeacherAssigned(ctx context.Context, userID, classID string) (bool, error) {
	return m.exists(ctx, `
		SELECT EXISTS(SELECT 1 FROM teacher_assignments WHERE user_id = ? AND class_id = ? AND active = 1)
	`, userID, classID)
}

// IsStudentEnrolled reports an active enrollment of userID in classID.
func (m *Manager) IsStudentEnrolled(ctx context.Context, userID, classID string) (bool, error) {
	return m.exists(ctx, `
		SELECT EXISTS(SELECT 1 FROM enrollments WHERE user_id = ? AND class_id = ? AND active = 1)
	`, userID, classID)
}

func (m *Manager) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var ok bool
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("lookup failed: %w", err)
	}
	return ok, nil
}

// AssignTeacher upserts a teacher assignment. Used for seeding and tests.
func (m *Manager) AssignTeacher(ctx context.Context, userID, classID, subject string, active bool) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO teacher_assignments (user_id, class_id, subject, active) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, class_id, subject) DO UPDATE SET active = excluded.active
		`, userID, classID, subject, active)
		return err
	})
}

// EnrollStudent upserts an enrollment. Used for seeding and tests.
func (m *Manager) EnrollStudent(ctx context.Context, userID, classID string, active bool) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO enrollments (user_id, class_id, active) VALUES (?, ?, ?)
			ON CONFLICT (user_id, class_id) DO UPDATE SET active = excluded.active
		`, userID, classID, active)
		return err
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB returns the underlying database connection
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close drains the writer and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrMessageNotFound
	}
	return nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
