// Package imessage provides read-only access to Apple's Messages
// chat.db: windowed message retrieval, content decoding, and handle
// lookup. All schema-specific field names and payload parsing live
// here so schema drift across macOS versions stays localized.
package imessage

import (
	"database/sql"
	"time"
)

// ChatDB is a read-only connection to a chat.db file.
type ChatDB struct {
	db   *sql.DB
	path string
}

// Message is a decoded message row. Read-only snapshot at query time;
// the store is owned by the Messages app and never written by us.
type Message struct {
	RowID          int64     `json:"row_id"`
	Time           time.Time `json:"time"`             // UTC
	Sender         string    `json:"sender,omitempty"` // raw handle identifier; empty when FromMe
	FromMe         bool      `json:"from_me"`
	ChatIdentifier string    `json:"chat_identifier,omitempty"`
	ChatName       string    `json:"chat_name,omitempty"`
	Text           string    `json:"text"`
}

// ScoredMessage pairs a message with its search similarity score.
type ScoredMessage struct {
	Message Message `json:"message"`
	Score   float64 `json:"score"`
}

// Conversation is a chat row with its participant identifiers.
type Conversation struct {
	RowID        int64    `json:"row_id"`
	Identifier   string   `json:"identifier"`
	DisplayName  string   `json:"display_name,omitempty"`
	IsGroup      bool     `json:"is_group"`
	Participants []string `json:"participants,omitempty"`
}

// chatStyleGroup is chat.style 43, a group chat. 45 is one-to-one.
const chatStyleGroup = 43

// MaxWindowHours caps query windows at ten years. Converted to native
// nanoseconds this stays comfortably inside int64; anything larger is
// rejected before the store is touched.
const MaxWindowHours = 24 * 365 * 10

// DefaultResultLimit bounds a single windowed query.
const DefaultResultLimit = 500

// AccessReport describes store reachability for diagnostics.
type AccessReport struct {
	Path          string   `json:"path"`
	Exists        bool     `json:"exists"`
	Readable      bool     `json:"readable"`
	TablesPresent bool     `json:"tables_present"`
	RowCount      int64    `json:"row_count"`
	Notes         []string `json:"notes,omitempty"`
}
