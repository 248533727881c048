package memory

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_active TIMESTAMP NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	messages TEXT NOT NULL DEFAULT '[]'
);
`

// SQLiteStore is a durable ThreadStore: thread identifiers survive process
// restarts. Same contract as the in-memory Store.
type SQLiteStore struct {
	db         *sqlx.DB
	maxThreads int
}

var _ ThreadStore = (*SQLiteStore)(nil)

func NewSQLiteStore(path string, maxThreads int) (*SQLiteStore, error) {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open thread store %s", path)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create threads table")
	}
	return &SQLiteStore{db: db, maxThreads: maxThreads}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) NewThread(title string) (string, error) {
	if title == "" {
		title = "New conversation"
	}

	// evict before inserting so the new thread always fits
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM threads`); err != nil {
		return "", errors.Wrap(err, "count threads")
	}
	for count >= s.maxThreads {
		var oldestID string
		err := s.db.Get(&oldestID, `SELECT id FROM threads ORDER BY last_active ASC LIMIT 1`)
		if err != nil {
			return "", errors.Wrap(err, "find eviction candidate")
		}
		if _, err := s.db.Exec(`DELETE FROM threads WHERE id = ?`, oldestID); err != nil {
			return "", errors.Wrap(err, "evict thread")
		}
		log.Debug().Str("thread_id", oldestID).Msg("evicted least recently active thread")
		count--
	}

	id := NewThreadID()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO threads (id, title, created_at, last_active, message_count, messages) VALUES (?, ?, ?, ?, 0, '[]')`,
		id, title, now, now,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert thread")
	}
	return id, nil
}

type threadRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	CreatedAt    time.Time `db:"created_at"`
	LastActive   time.Time `db:"last_active"`
	MessageCount int       `db:"message_count"`
	Messages     string    `db:"messages"`
}

func (r threadRow) toInfo() (*ThreadInfo, error) {
	var msgs conversation.Conversation
	if err := json.Unmarshal([]byte(r.Messages), &msgs); err != nil {
		return nil, errors.Wrapf(err, "decode messages for thread %s", r.ID)
	}
	return &ThreadInfo{
		ID:           r.ID,
		Title:        r.Title,
		CreatedAt:    r.CreatedAt,
		LastActive:   r.LastActive,
		MessageCount: r.MessageCount,
		Messages:     msgs,
	}, nil
}

func (s *SQLiteStore) Get(id string) (*ThreadInfo, error) {
	var row threadRow
	err := s.db.Get(&row, `SELECT * FROM threads WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load thread %s", id)
	}
	return row.toInfo()
}

func (s *SQLiteStore) Append(id string, msgs ...*conversation.Message) error {
	info, err := s.Get(id)
	if err != nil {
		return err
	}
	info.Messages = append(info.Messages, msgs...)
	return s.writeMessages(id, info.Messages)
}

func (s *SQLiteStore) Touch(id string, messageCount int) error {
	res, err := s.db.Exec(
		`UPDATE threads SET last_active = ?, message_count = ? WHERE id = ?`,
		time.Now().UTC(), messageCount, id,
	)
	if err != nil {
		return errors.Wrapf(err, "touch thread %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	return nil
}

func (s *SQLiteStore) List() []*ThreadInfo {
	var rows []threadRow
	if err := s.db.Select(&rows, `SELECT * FROM threads ORDER BY last_active DESC`); err != nil {
		log.Error().Err(err).Msg("failed to list threads")
		return nil
	}
	out := make([]*ThreadInfo, 0, len(rows))
	for _, r := range rows {
		info, err := r.toInfo()
		if err != nil {
			log.Warn().Err(err).Str("thread_id", r.ID).Msg("skipping undecodable thread")
			continue
		}
		info.Messages = nil
		out = append(out, info)
	}
	return out
}

func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete thread %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	return nil
}

func (s *SQLiteStore) Trim(id string, maxMessages int) error {
	info, err := s.Get(id)
	if err != nil {
		return err
	}
	trimmed := TrimMessages(info.Messages, maxMessages)
	return s.writeMessages(id, trimmed)
}

func (s *SQLiteStore) writeMessages(id string, msgs conversation.Conversation) error {
	b, err := json.Marshal(msgs)
	if err != nil {
		return errors.Wrapf(err, "encode messages for thread %s", id)
	}
	_, err = s.db.Exec(
		`UPDATE threads SET messages = ?, message_count = ? WHERE id = ?`,
		string(b), len(msgs), id,
	)
	return errors.Wrapf(err, "store messages for thread %s", id)
}
