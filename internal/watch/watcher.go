// Package watch follows chat.db for new message arrivals.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Napageneral/msgbridge/imessage"
)

// DefaultDebounce coalesces the burst of file events the Messages app
// emits per delivery.
const DefaultDebounce = 2 * time.Second

// Watcher tails chat.db and hands newly arrived messages to a
// callback. Each poll opens the store read-only and closes it before
// the callback runs.
type Watcher struct {
	chatDBPath string
	debounce   time.Duration
	log        *zap.Logger
	onMessages func([]imessage.Message)

	lastRowID int64
}

// New creates a Watcher over chatDBPath. A zero debounce uses
// DefaultDebounce; a nil logger is silent.
func New(chatDBPath string, debounce time.Duration, log *zap.Logger, onMessages func([]imessage.Message)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		chatDBPath: chatDBPath,
		debounce:   debounce,
		log:        log,
		onMessages: onMessages,
	}
}

// Run watches until ctx is done. The initial poll only records the
// current high-water ROWID so the callback sees arrivals, not history.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.prime(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: the WAL checkpoint replaces the db file,
	// which drops a watch on the file itself.
	chatDBDir := filepath.Dir(w.chatDBPath)
	if err := watcher.Add(chatDBDir); err != nil {
		return err
	}

	w.log.Info("watching for new messages",
		zap.String("dir", chatDBDir),
		zap.Duration("debounce", w.debounce))

	var debounceTimer *time.Timer
	poll := make(chan struct{}, 1)
	trigger := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(w.debounce, func() {
			select {
			case poll <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll:
			w.poll()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.Contains(event.Name, "chat.db") {
				trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) prime() error {
	db, err := imessage.OpenChatDB(w.chatDBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	maxRowID, err := db.MaxMessageRowID()
	if err != nil {
		return err
	}
	w.lastRowID = maxRowID
	return nil
}

func (w *Watcher) poll() {
	db, err := imessage.OpenChatDB(w.chatDBPath)
	if err != nil {
		w.log.Warn("poll failed", zap.Error(err))
		return
	}
	msgs, err := db.MessagesAfter(w.lastRowID, 0)
	db.Close()
	if err != nil {
		w.log.Warn("poll failed", zap.Error(err))
		return
	}
	if len(msgs) == 0 {
		return
	}

	w.lastRowID = msgs[len(msgs)-1].RowID
	if w.onMessages != nil {
		w.onMessages(msgs)
	}
}
