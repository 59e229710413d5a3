// Package bot connects browser sessions to a Telegram chat: it polls for
// updates, renders menus and delivers archives.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/justyntemme/diskbot/internal/action"
	"github.com/justyntemme/diskbot/internal/archive"
	"github.com/justyntemme/diskbot/internal/browser"
	"github.com/justyntemme/diskbot/internal/debug"
	"github.com/justyntemme/diskbot/internal/menu"
	"github.com/justyntemme/diskbot/internal/metrics"
	"github.com/justyntemme/diskbot/internal/telegram"
	"github.com/rs/zerolog"
)

// ErrTransmission wraps a failed archive upload.
var ErrTransmission = errors.New("archive transmission failed")

const introText = "Browse remote file system."

// API is the subset of the Bot API the bot uses. *telegram.Client
// implements it.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, id, text string) error
	SendDocument(ctx context.Context, chatID int64, filename string, doc io.ReaderAt, size int64) error
}

// State keeps polling progress across restarts. *store.DB implements it.
type State interface {
	UpdateOffset() (int64, error)
	SetUpdateOffset(offset int64) error
	OwnerChat() (int64, error)
	SetOwnerChat(chatID int64) error
}

type Options struct {
	Home    string
	OwnerID int64
	// Confine keeps parent navigation inside Home.
	Confine     bool
	PageSize    int
	MaxBytes    int64
	TempDir     string
	PollTimeout time.Duration
}

type Bot struct {
	api   API
	state State
	opts  Options
	log   zerolog.Logger

	// One session per chat. Only the polling goroutine touches it.
	sessions map[int64]*browser.Session
}

func New(api API, state State, opts Options, logger zerolog.Logger) *Bot {
	if opts.PageSize <= 0 {
		opts.PageSize = menu.DefaultPageSize
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = archive.DefaultLimit
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	return &Bot{
		api:      api,
		state:    state,
		opts:     opts,
		log:      logger,
		sessions: make(map[int64]*browser.Session),
	}
}

// Run polls until ctx is cancelled. Updates are handled one at a time and
// the offset is stored after each so a restart does not replay them.
func (b *Bot) Run(ctx context.Context) error {
	offset, err := b.state.UpdateOffset()
	if err != nil {
		return fmt.Errorf("failed to read update offset: %w", err)
	}
	ev := b.log.Info().Int64("offset", offset).Str("home", b.opts.Home)
	if chat, err := b.state.OwnerChat(); err == nil && chat != 0 {
		ev = ev.Int64("last_chat", chat)
	}
	ev.Msg("Polling for updates")

	backoff := time.Second
	for {
		updates, err := b.api.GetUpdates(ctx, offset, b.opts.PollTimeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			b.log.Error().Err(err).Dur("retry_in", backoff).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			b.HandleUpdate(ctx, u)
			offset = u.UpdateID + 1
			if err := b.state.SetUpdateOffset(offset); err != nil {
				b.log.Warn().Err(err).Int64("offset", offset).Msg("Failed to store update offset")
			}
		}
	}
}

// HandleUpdate dispatches one update. Senders other than the owner are
// logged and dropped before anything else happens.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	switch {
	case u.Message != nil:
		msg := u.Message
		if msg.From == nil || !b.authorized(*msg.From) {
			return
		}
		if isStart(msg.Text) {
			if err := b.start(ctx, msg.Chat.ID); err != nil {
				b.log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("start failed")
			}
			return
		}
		debug.Log(debug.BOT, "ignoring message %q", msg.Text)

	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if !b.authorized(cq.From) {
			return
		}
		if err := b.callback(ctx, cq); err != nil {
			b.log.Error().Err(err).Str("data", cq.Data).Msg("callback failed")
		}
	}
}

func (b *Bot) authorized(from telegram.User) bool {
	if b.opts.OwnerID != 0 && from.ID == b.opts.OwnerID {
		return true
	}
	metrics.RecordUnauthorized()
	b.log.Warn().
		Int64("user_id", from.ID).
		Str("username", from.Username).
		Msg("Unknown user trying to use the bot, permission denied")
	return false
}

func isStart(text string) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == "/start"
}

// start opens a session at home, or resets the existing one.
func (b *Bot) start(ctx context.Context, chatID int64) error {
	s, ok := b.sessions[chatID]
	if ok {
		if err := s.ResetToHome(); err != nil {
			return err
		}
	} else {
		var err error
		s, err = browser.New(b.opts.Home, browser.WithConfinement(b.opts.Confine))
		if err != nil {
			return err
		}
		b.sessions[chatID] = s
		metrics.SetSessions(len(b.sessions))
	}
	b.log.Info().Int64("chat", chatID).Msg("Connected owner")

	if err := b.state.SetOwnerChat(chatID); err != nil {
		b.log.Warn().Err(err).Msg("Failed to store owner chat")
	}
	if _, err := b.api.SendMessage(ctx, chatID, introText, nil); err != nil {
		return err
	}
	_, err := b.api.SendMessage(ctx, chatID, menu.Caption(s), b.keyboard(s))
	return err
}

func (b *Bot) callback(ctx context.Context, cq *telegram.CallbackQuery) error {
	if cq.Message == nil {
		return b.api.AnswerCallbackQuery(ctx, cq.ID, "")
	}
	chatID := cq.Message.Chat.ID

	s, ok := b.sessions[chatID]
	if !ok {
		return b.api.AnswerCallbackQuery(ctx, cq.ID, "Send /start first")
	}

	a, err := action.Decode(cq.Data)
	if err != nil {
		b.log.Warn().Err(err).Str("data", cq.Data).Msg("Dropping callback")
		return b.api.AnswerCallbackQuery(ctx, cq.ID, "")
	}

	if a.Kind == action.Fetch {
		if err := b.api.AnswerCallbackQuery(ctx, cq.ID, "Creating archive..."); err != nil {
			b.log.Warn().Err(err).Msg("answerCallbackQuery failed")
		}
		return b.sendArchive(ctx, chatID, s)
	}

	changed, err := s.Apply(a)
	if err != nil {
		metrics.RecordAction(a.Kind.String(), metrics.ResultError)
		b.log.Warn().Err(err).Str("action", a.Kind.String()).Msg("Action rejected")
		return b.api.AnswerCallbackQuery(ctx, cq.ID, userMessage(err))
	}
	if !changed {
		metrics.RecordAction(a.Kind.String(), metrics.ResultUnchanged)
		debug.Log(debug.BOT, "%s: message is not modified", a.Kind)
		return b.api.AnswerCallbackQuery(ctx, cq.ID, "")
	}
	metrics.RecordAction(a.Kind.String(), metrics.ResultChanged)

	err = b.api.EditMessageText(ctx, chatID, cq.Message.MessageID, menu.Caption(s), b.keyboard(s))
	if err != nil && !telegram.IsNotModified(err) {
		return err
	}
	return b.api.AnswerCallbackQuery(ctx, cq.ID, "")
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, browser.ErrNotFound):
		return "Directory no longer exists"
	case errors.Is(err, browser.ErrInvalidIndex):
		return "Menu is out of date, send /start"
	default:
		return "Can't open: " + err.Error()
	}
}

// sendArchive zips the selection and uploads it. The archive file is
// removed on every path once built.
func (b *Bot) sendArchive(ctx context.Context, chatID int64, s *browser.Session) error {
	started := time.Now()
	a, err := archive.BuildIn(b.opts.TempDir, s.Selected(), s.Current(), b.opts.MaxBytes)
	switch {
	case errors.Is(err, archive.ErrEmptySelection):
		metrics.RecordArchive(metrics.ArchiveEmpty)
		return b.notify(ctx, chatID, "Nothing selected.")
	case errors.Is(err, archive.ErrOverLimit):
		metrics.RecordArchive(metrics.ArchiveOverLimit)
		b.log.Warn().Err(err).Msg("Can't upload files")
		return b.notify(ctx, chatID, "Can't upload: "+err.Error())
	case err != nil:
		metrics.RecordArchive(metrics.ArchiveFailed)
		b.notifyQuietly(ctx, chatID, "Can't create archive.")
		return err
	}
	defer a.Remove()

	metrics.ObserveArchive(a.Size, time.Since(started))
	b.log.Info().
		Str("name", a.Name).
		Int("entries", len(a.Entries)).
		Int64("size", a.Size).
		Msg("Uploading archive")

	// Zip overhead on incompressible data can push it past the upload ceiling
	if b.opts.MaxBytes > 0 && a.Size > b.opts.MaxBytes {
		metrics.RecordArchive(metrics.ArchiveOverLimit)
		over := &archive.OverLimitError{Total: a.Size, Limit: b.opts.MaxBytes}
		return b.notify(ctx, chatID, "Can't upload: "+over.Error())
	}

	f, err := a.Open()
	if err != nil {
		metrics.RecordArchive(metrics.ArchiveFailed)
		return err
	}
	defer f.Close()

	if err := b.api.SendDocument(ctx, chatID, a.Name, f, a.Size); err != nil {
		metrics.RecordArchive(metrics.ArchiveSendError)
		b.notifyQuietly(ctx, chatID, "Can't upload file.")
		return fmt.Errorf("%w: %s: %w", ErrTransmission, a.Name, err)
	}
	metrics.RecordArchive(metrics.ArchiveSent)
	return nil
}

func (b *Bot) notify(ctx context.Context, chatID int64, text string) error {
	_, err := b.api.SendMessage(ctx, chatID, text, nil)
	return err
}

func (b *Bot) notifyQuietly(ctx context.Context, chatID int64, text string) {
	if err := b.notify(ctx, chatID, text); err != nil {
		b.log.Warn().Err(err).Msg("Failed to notify user")
	}
}

// keyboard converts the rendered menu into inline keyboard markup.
func (b *Bot) keyboard(s *browser.Session) *telegram.InlineKeyboardMarkup {
	rows := menu.Render(s, b.opts.PageSize)
	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: make([][]telegram.InlineKeyboardButton, 0, len(rows)),
	}
	for _, row := range rows {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, telegram.InlineKeyboardButton{
				Text:         btn.Label,
				CallbackData: action.Encode(btn.Action),
			})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}
