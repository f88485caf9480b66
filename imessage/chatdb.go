package imessage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Napageneral/msgbridge/internal/errs"
	"github.com/Napageneral/msgbridge/internal/fuzzy"
)

// busyRetryDelay is the single backoff before giving up on a locked
// database. The Messages app holds short write locks during delivery.
const busyRetryDelay = 250 * time.Millisecond

// GetChatDBPath returns the path to the macOS Messages chat.db
func GetChatDBPath() string {
	if override := os.Getenv("MSGBRIDGE_CHAT_DB"); override != "" {
		return os.ExpandEnv(override)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}

// OpenChatDB opens the chat.db with read-only optimized pragmas
func OpenChatDB(path string) (*ChatDB, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errs.New(errs.Access, "chat.db not found at %s", path)
	}

	// Open with read-only URI mode
	// Note: Don't use immutable=1 for live macOS Messages DB (uses WAL)
	uri := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, errs.Wrap(errs.Access, err, "failed to open chat.db at %s (grant Full Disk Access to your terminal in System Settings > Privacy & Security)", path)
	}

	// Set read-only pragmas for performance
	pragmas := []string{
		"PRAGMA query_only=ON",
		"PRAGMA synchronous=OFF",
		"PRAGMA journal_mode=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-262144",  // 256MB cache
		"PRAGMA mmap_size=268435456", // 256MB memory map
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			// Ignore pragma errors (some may not be supported)
			continue
		}
	}

	return &ChatDB{db: db, path: path}, nil
}

// Close closes the chat.db connection
func (c *ChatDB) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the path to the chat.db file
func (c *ChatDB) Path() string {
	return c.path
}

// query runs a read query with a retry-once policy for the case where
// the Messages app holds an exclusive lock.
func (c *ChatDB) query(q string, args ...any) (*sql.Rows, error) {
	rows, err := c.db.Query(q, args...)
	if err != nil && isBusy(err) {
		time.Sleep(busyRetryDelay)
		rows, err = c.db.Query(q, args...)
	}
	if err != nil {
		if isBusy(err) {
			return nil, errs.Wrap(errs.Access, err, "chat.db at %s is locked by the Messages app", c.path)
		}
		return nil, errs.Wrap(errs.Access, err, "failed to query chat.db")
	}
	return rows, nil
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// ValidateWindow rejects out-of-range windows before any store access.
func ValidateWindow(windowHours int) error {
	if windowHours <= 0 {
		return errs.New(errs.Validation, "window hours must be positive, got %d", windowHours)
	}
	if windowHours > MaxWindowHours {
		return errs.New(errs.Validation, "window hours %d exceeds maximum of %d", windowHours, MaxWindowHours)
	}
	return nil
}

// reactionExclusion filters out tapbacks, both the legacy type
// 2000-2005 rows and the modern text-based "Loved ..." form. They are
// noise when reading a thread.
const reactionExclusion = `
	  AND (m.type < 2000 OR m.type > 2005 OR m.type IS NULL)
	  AND NOT (
	    m.type = 0
	    AND m.associated_message_guid IS NOT NULL
	    AND m.associated_message_guid != ''
	    AND m.text IS NOT NULL
	    AND m.text != ''
	    AND (
	      m.text LIKE 'Loved %' OR
	      m.text LIKE 'Liked %' OR
	      m.text LIKE 'Disliked %' OR
	      m.text LIKE 'Laughed at %' OR
	      m.text LIKE 'Emphasized %' OR
	      m.text LIKE 'Questioned %'
	    )
	  )`

const messageSelect = `
	SELECT
		m.ROWID,
		m.date,
		m.text,
		m.attributedBody,
		m.is_from_me,
		h.id,
		c.chat_identifier,
		c.display_name
	FROM message m
	LEFT JOIN handle h ON h.ROWID = m.handle_id
	LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
	LEFT JOIN chat c ON c.ROWID = cmj.chat_id
	WHERE `

// RecentMessages returns decoded messages from the last windowHours
// hours, oldest first. handleID filters to a single sender handle when
// > 0. When the window holds more rows than limit, the limit keeps the
// newest rows and trims the old end. The time bound is computed in
// native nanoseconds; a raw calendar-seconds comparison against m.date
// would return nothing.
func (c *ChatDB) RecentMessages(windowHours int, handleID int64, limit int) ([]Message, error) {
	if err := ValidateWindow(windowHours); err != nil {
		return nil, err
	}
	since, err := windowStart(time.Now(), windowHours)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultResultLimit
	}

	q := messageSelect + `m.date >= ?` + reactionExclusion
	args := []any{int64(since)}
	if handleID > 0 {
		q += `
	  AND m.handle_id = ?`
		args = append(args, handleID)
	}
	// Newest first so the limit trims the old end of the window.
	q += `
	ORDER BY m.date DESC
	LIMIT ?`
	args = append(args, limit)

	rows, err := c.query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesAfter returns decoded messages with ROWID greater than
// rowID, in row order. Used by watch mode to pick up new arrivals.
func (c *ChatDB) MessagesAfter(rowID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultResultLimit
	}

	q := messageSelect + `m.ROWID > ?` + reactionExclusion + `
	ORDER BY m.ROWID ASC
	LIMIT ?`

	rows, err := c.query(q, rowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var (
			rowID          int64
			date           int64
			text           sql.NullString
			attributedBody []byte
			isFromMe       bool
			sender         sql.NullString
			chatIdentifier sql.NullString
			chatName       sql.NullString
		)
		if err := rows.Scan(&rowID, &date, &text, &attributedBody, &isFromMe, &sender, &chatIdentifier, &chatName); err != nil {
			return nil, errs.Wrap(errs.Access, err, "failed to scan message")
		}

		decoded := DecodeMessageContent(text.String, attributedBody)
		// Nothing textual and nothing to decode: skip the row entirely.
		if decoded == "" && !text.Valid && len(attributedBody) == 0 {
			continue
		}

		msg := Message{
			RowID:          rowID,
			Time:           NativeTime(date).Time(),
			FromMe:         isFromMe,
			ChatIdentifier: chatIdentifier.String,
			ChatName:       chatName.String,
			Text:           decoded,
		}
		if !isFromMe {
			msg.Sender = sender.String
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Access, err, "error iterating messages")
	}
	return out, nil
}

// SearchMessages fetches the windowed set and ranks messages whose
// decoded content scores at or above threshold against term. Results
// are ordered by descending score; equal scores prefer newer messages.
func (c *ChatDB) SearchMessages(term string, windowHours int, threshold float64, limit int) ([]ScoredMessage, error) {
	if strings.TrimSpace(term) == "" {
		return nil, errs.New(errs.Validation, "search term must not be empty")
	}
	if threshold < 0 || threshold > 1 {
		return nil, errs.New(errs.Validation, "threshold %g out of range [0, 1]", threshold)
	}

	msgs, err := c.RecentMessages(windowHours, 0, limit)
	if err != nil {
		return nil, err
	}

	normTerm := NormalizeSearchText(term)
	var out []ScoredMessage
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		score := fuzzy.Score(normTerm, NormalizeSearchText(m.Text), threshold)
		if score >= threshold {
			out = append(out, ScoredMessage{Message: m, Score: score})
		}
	}

	sortScoredMessages(out)
	return out, nil
}

// sortScoredMessages orders by descending score, breaking ties by
// recency (newer first). Stable, so fixed inputs always rank the same.
func sortScoredMessages(msgs []ScoredMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Score != msgs[j].Score {
			return msgs[i].Score > msgs[j].Score
		}
		return msgs[i].Message.Time.After(msgs[j].Message.Time)
	})
}

// Conversations returns all chats with their participant identifiers.
func (c *ChatDB) Conversations() ([]Conversation, error) {
	rows, err := c.query(`
		SELECT ROWID, chat_identifier, display_name, style
		FROM chat
		WHERE chat_identifier IS NOT NULL AND chat_identifier != ''
		ORDER BY ROWID
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	byRowID := map[int64]int{}
	for rows.Next() {
		var (
			rowID       int64
			identifier  string
			displayName sql.NullString
			style       sql.NullInt64
		)
		if err := rows.Scan(&rowID, &identifier, &displayName, &style); err != nil {
			return nil, errs.Wrap(errs.Access, err, "failed to scan chat")
		}
		byRowID[rowID] = len(convs)
		convs = append(convs, Conversation{
			RowID:       rowID,
			Identifier:  identifier,
			DisplayName: displayName.String,
			IsGroup:     style.Int64 == chatStyleGroup,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Access, err, "error iterating chats")
	}

	prows, err := c.query(`
		SELECT chj.chat_id, h.id
		FROM chat_handle_join chj
		JOIN handle h ON h.ROWID = chj.handle_id
		ORDER BY chj.chat_id, chj.handle_id
	`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		var chatID int64
		var handle string
		if err := prows.Scan(&chatID, &handle); err != nil {
			return nil, errs.Wrap(errs.Access, err, "failed to scan chat participant")
		}
		if i, ok := byRowID[chatID]; ok {
			convs[i].Participants = append(convs[i].Participants, handle)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, errs.Wrap(errs.Access, err, "error iterating chat participants")
	}

	return convs, nil
}

// FindHandle looks up a handle ROWID for a phone number or email,
// trying the normalized digit variants with and without the US country
// code and the + prefix.
func (c *ChatDB) FindHandle(identifier string) (int64, bool, error) {
	norm, typ := NormalizeIdentifier(identifier)
	if norm == "" {
		return 0, false, nil
	}

	var variants []string
	if typ == "email" {
		variants = []string{norm}
	} else {
		variants = []string{norm}
		if len(norm) == 10 {
			variants = append(variants, "1"+norm)
		}
		withPlus := make([]string, 0, len(variants))
		for _, v := range variants {
			withPlus = append(withPlus, "+"+v)
		}
		variants = append(variants, withPlus...)
	}

	q := `SELECT ROWID FROM handle WHERE id IN (?` +
		repeatPlaceholder(len(variants)-1) + `) ORDER BY ROWID LIMIT 1`
	args := make([]any, len(variants))
	for i, v := range variants {
		args[i] = v
	}

	rows, err := c.query(q, args...)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	if rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			return 0, false, errs.Wrap(errs.Access, err, "failed to scan handle")
		}
		return rowID, true, rows.Err()
	}
	return 0, false, rows.Err()
}

// MaxMessageRowID returns the maximum ROWID from the message table
func (c *ChatDB) MaxMessageRowID() (int64, error) {
	var maxRowID int64
	err := c.db.QueryRow(`SELECT COALESCE(MAX(ROWID), 0) FROM message`).Scan(&maxRowID)
	if err != nil {
		return 0, errs.Wrap(errs.Access, err, "failed to query max message ROWID")
	}
	return maxRowID, nil
}

// CheckAccess probes a chat.db path and reports what a caller can
// expect: existence, readability, and whether the required tables are
// present. Used by the doctor diagnostics.
func CheckAccess(path string) AccessReport {
	report := AccessReport{Path: path}

	if _, err := os.Stat(path); err != nil {
		report.Notes = append(report.Notes, fmt.Sprintf("chat.db not found at %s", path))
		return report
	}
	report.Exists = true

	f, err := os.Open(path)
	if err != nil {
		report.Notes = append(report.Notes,
			"permission denied reading chat.db; grant Full Disk Access to your terminal in System Settings > Privacy & Security")
		return report
	}
	f.Close()
	report.Readable = true

	db, err := OpenChatDB(path)
	if err != nil {
		report.Notes = append(report.Notes, err.Error())
		return report
	}
	defer db.Close()

	var present int
	err = db.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name IN ('message', 'handle', 'chat')
	`).Scan(&present)
	if err != nil {
		report.Notes = append(report.Notes, fmt.Sprintf("failed to inspect schema: %v", err))
		return report
	}
	report.TablesPresent = present == 3
	if !report.TablesPresent {
		report.Notes = append(report.Notes, "required tables (message, handle, chat) are missing")
		return report
	}

	if count, err := countRows(db.db, "message"); err == nil {
		report.RowCount = count
	}
	return report
}

func countRows(db *sql.DB, table string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
	return n, err
}

func repeatPlaceholder(n int) string {
	var b []byte
	for i := 0; i < n; i++ {
		b = append(b, ", ?"...)
	}
	return string(b)
}
