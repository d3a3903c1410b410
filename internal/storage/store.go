// Package storage is the persisted side of the conversation list: users,
// conversations, memberships with read watermarks, and the message store
// whose inserts drive push events and notifications.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrNotMember = errors.New("storage: not a participant")
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// TimeLayout is how timestamps are stored; fixed width keeps text order
// equal to time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Store runs the shared queries over either database.
type Store struct {
	DB      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{DB: db, dialect: dialect, now: time.Now}
}

// rebind rewrites ? placeholders for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(TimeLayout)
}

func parseTime(v string) time.Time {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// CreateUser inserts a user. An empty id gets a fresh uuid, which is returned.
func (s *Store) CreateUser(ctx context.Context, id, username, email string, avatar *string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, s.rebind(
		`INSERT INTO users (id, username, email, avatar, created_at) VALUES (?, ?, ?, ?, ?)`),
		id, username, email, avatar, s.stamp())
	if err != nil {
		return "", fmt.Errorf("creating user %q: %w", username, err)
	}
	return id, nil
}

func (s *Store) User(ctx context.Context, id string) (model.Participant, error) {
	var p model.Participant
	var avatar sql.NullString
	err := s.DB.QueryRowContext(ctx, s.rebind(
		`SELECT id, username, email, avatar FROM users WHERE id=?`), id).
		Scan(&p.ID, &p.Name, &p.Email, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("loading user %s: %w", id, err)
	}
	p.Avatar = nullable(avatar)
	return p, nil
}

// CreateConversation inserts a conversation with its members in one
// transaction. adminID is added as admin even if missing from members.
func (s *Store) CreateConversation(ctx context.Context, name string, isGroup bool, avatar *string, adminID string, members []string) (string, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	var dbName any
	if name != "" {
		dbName = name
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (id, name, is_group, avatar, created_at) VALUES (?, ?, ?, ?, ?)`),
		id, dbName, isGroup, avatar, s.stamp()); err != nil {
		return "", fmt.Errorf("inserting conversation: %w", err)
	}

	insert := s.rebind(`INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, ?)`)
	seen := map[string]bool{}
	if adminID != "" {
		if _, err := tx.ExecContext(ctx, insert, id, adminID, isGroup); err != nil {
			return "", fmt.Errorf("adding admin %s: %w", adminID, err)
		}
		seen[adminID] = true
	}
	for _, uid := range members {
		if seen[uid] || uid == "" {
			continue
		}
		seen[uid] = true
		if _, err := tx.ExecContext(ctx, insert, id, uid, false); err != nil {
			return "", fmt.Errorf("adding participant %s: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// FindPrivate returns the direct conversation between a and b.
func (s *Store) FindPrivate(ctx context.Context, a, b string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, s.rebind(`SELECT c.id FROM conversations c
		JOIN participants p1 ON p1.conversation_id=c.id AND p1.user_id=?
		JOIN participants p2 ON p2.conversation_id=c.id AND p2.user_id=?
		WHERE c.is_group=? LIMIT 1`), a, b, false).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("finding private conversation: %w", err)
	}
	return id, nil
}

func (s *Store) AddParticipant(ctx context.Context, conversationID, userID string, admin bool) error {
	var exists int
	err := s.DB.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(1) FROM participants WHERE conversation_id=? AND user_id=?`), conversationID, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking participant: %w", err)
	}
	if exists > 0 {
		return nil
	}
	_, err = s.DB.ExecContext(ctx, s.rebind(
		`INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, ?)`), conversationID, userID, admin)
	if err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}
	return nil
}

func (s *Store) IsAdmin(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(1) FROM participants WHERE conversation_id=? AND user_id=? AND is_admin=?`),
		conversationID, userID, true).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking admin: %w", err)
	}
	return n > 0, nil
}

func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(1) FROM participants WHERE conversation_id=? AND user_id=?`),
		conversationID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Participants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT u.id, u.username, u.email, u.avatar
		FROM participants p JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id=? ORDER BY u.username`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	out := []model.Participant{}
	for rows.Next() {
		var p model.Participant
		var avatar sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &avatar); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		p.Avatar = nullable(avatar)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ConversationByID loads one conversation with its participants. Unread
// count and preview are viewer-specific and left empty.
func (s *Store) ConversationByID(ctx context.Context, id string) (model.Conversation, error) {
	var c model.Conversation
	var name, avatar sql.NullString
	err := s.DB.QueryRowContext(ctx, s.rebind(
		`SELECT id, name, is_group, avatar FROM conversations WHERE id=?`), id).
		Scan(&c.ID, &name, &c.IsGroup, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	c.Avatar = nullable(avatar)
	c.Participants, err = s.Participants(ctx, id)
	if err != nil {
		return c, err
	}
	c.Name = name.String
	if c.Name == "" {
		c.Name = displayName(c.Participants, "")
	}
	return c, nil
}

// displayName names a conversation without a stored name after the other
// participants.
func displayName(ps []model.Participant, viewer string) string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		if p.ID != viewer {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}

// ListConversations builds the conversation-list snapshot for userID, most
// recently active first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(`
		SELECT c.id, c.name, c.is_group, c.avatar,
			(SELECT m.content FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1),
			(SELECT m.created_at FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1),
			(SELECT COUNT(1) FROM messages m WHERE m.conversation_id = c.id AND m.seq > p.last_read_seq AND m.sender_id <> p.user_id)
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY COALESCE((SELECT MAX(m.seq) FROM messages m WHERE m.conversation_id = c.id), 0) DESC, c.created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	list := []model.Conversation{}
	for rows.Next() {
		var c model.Conversation
		var name, avatar, last, lastAt sql.NullString
		if err := rows.Scan(&c.ID, &name, &c.IsGroup, &avatar, &last, &lastAt, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.Name = name.String
		c.Avatar = nullable(avatar)
		c.LastMessage = nullable(last)
		if lastAt.Valid {
			t := parseTime(lastAt.String)
			c.LastMessageTime = &t
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversations: %w", err)
	}

	for i := range list {
		ps, err := s.Participants(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Participants = ps
		if list[i].Name == "" {
			list[i].Name = displayName(ps, userID)
		}
	}
	return list, nil
}

// InsertMessage appends a message to the store.
func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID, content string) (model.InsertedMessage, error) {
	m := model.InsertedMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	stamp := s.stamp()
	m.CreatedAt = parseTime(stamp)

	err := s.DB.QueryRowContext(ctx, s.rebind(
		`INSERT INTO messages (id, conversation_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?) RETURNING seq`),
		m.ID, conversationID, senderID, content, stamp).Scan(&m.Seq)
	if err != nil {
		return m, fmt.Errorf("inserting message: %w", err)
	}
	if u, err := s.User(ctx, senderID); err == nil {
		m.SenderName = u.Name
	}
	return m, nil
}

const messageColumns = `SELECT m.seq, m.id, m.conversation_id, m.sender_id, COALESCE(u.username, ''), m.content, m.created_at
		FROM messages m LEFT JOIN users u ON u.id = m.sender_id`

func scanMessages(rows *sql.Rows) ([]model.InsertedMessage, error) {
	defer rows.Close()
	out := []model.InsertedMessage{}
	for rows.Next() {
		var m model.InsertedMessage
		var at string
		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &at); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt = parseTime(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Messages pages through a conversation newest first.
func (s *Store) Messages(ctx context.Context, conversationID string, limit, offset int) ([]model.InsertedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(messageColumns+`
		WHERE m.conversation_id=? ORDER BY m.seq DESC LIMIT ? OFFSET ?`), conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return scanMessages(rows)
}

// MessagesAfter returns inserts with seq greater than after, oldest first.
func (s *Store) MessagesAfter(ctx context.Context, after int64, limit int) ([]model.InsertedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(messageColumns+`
		WHERE m.seq > ? ORDER BY m.seq ASC LIMIT ?`), after, limit)
	if err != nil {
		return nil, fmt.Errorf("reading message feed: %w", err)
	}
	return scanMessages(rows)
}

// MessageBySeq loads the message a change notification points at.
func (s *Store) MessageBySeq(ctx context.Context, seq int64) (model.InsertedMessage, error) {
	rows, err := s.DB.QueryContext(ctx, s.rebind(messageColumns+` WHERE m.seq = ?`), seq)
	if err != nil {
		return model.InsertedMessage{}, fmt.Errorf("loading message %d: %w", seq, err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return model.InsertedMessage{}, err
	}
	if len(msgs) == 0 {
		return model.InsertedMessage{}, ErrNotFound
	}
	return msgs[0], nil
}

func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM messages`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("reading max seq: %w", err)
	}
	return seq, nil
}

// UnreadCount counts messages after the user's read watermark that someone
// else sent.
func (s *Store) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM messages m
		JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE m.conversation_id = ? AND m.seq > p.last_read_seq AND m.sender_id <> ?`),
		userID, conversationID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// MarkRead moves the user's watermark to the newest message.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string) error {
	res, err := s.DB.ExecContext(ctx, s.rebind(`UPDATE participants
		SET last_read_seq = (SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?)
		WHERE conversation_id = ? AND user_id = ?`), conversationID, conversationID, userID)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotMember
	}
	return nil
}

// LeaveConversation deletes the conversation for userID. The conversation
// itself goes away with its last participant.
func (s *Store) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM participants WHERE conversation_id=? AND user_id=?`), conversationID, userID)
	if err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotMember
	}

	var left int
	if err := tx.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(1) FROM participants WHERE conversation_id=?`), conversationID).Scan(&left); err != nil {
		return fmt.Errorf("counting participants: %w", err)
	}
	if left == 0 {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE conversation_id=?`), conversationID); err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id=?`), conversationID); err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
	}
	return tx.Commit()
}
