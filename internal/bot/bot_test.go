package bot

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justyntemme/diskbot/internal/store"
	"github.com/justyntemme/diskbot/internal/telegram"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerID   = int64(100)
	ownerChat = int64(500)
)

type sentMessage struct {
	ChatID    int64
	MessageID int
	Text      string
	Markup    *telegram.InlineKeyboardMarkup
}

type sentDoc struct {
	Name string
	Data []byte
}

type fakeAPI struct {
	mu      sync.Mutex
	sent    []sentMessage
	edits   []sentMessage
	answers []string
	docs    []sentDoc
	docErr  error

	batches [][]telegram.Update
	offsets []int64
	cancel  context.CancelFunc
}

func (f *fakeAPI) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = append(f.offsets, offset)
	if len(f.batches) == 0 {
		f.cancel()
		return nil, ctx.Err()
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.sent) + 1
	f.sent = append(f.sent, sentMessage{ChatID: chatID, MessageID: id, Text: text, Markup: markup})
	return &telegram.Message{MessageID: id, Chat: telegram.Chat{ID: chatID}, Text: text}, nil
}

func (f *fakeAPI) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMessage{ChatID: chatID, MessageID: messageID, Text: text, Markup: markup})
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAPI) SendDocument(ctx context.Context, chatID int64, filename string, doc io.ReaderAt, size int64) error {
	if f.docErr != nil {
		return f.docErr
	}
	data, err := io.ReadAll(io.NewSectionReader(doc, 0, size))
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, sentDoc{Name: filename, Data: data})
	return nil
}

type fixture struct {
	bot     *Bot
	api     *fakeAPI
	db      *store.DB
	home    string
	tempDir string
}

func newFixture(t *testing.T, maxBytes int64) *fixture {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(home, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "docs", "note.txt"), []byte("note"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(home, "a.txt"), []byte("hello world"), 0o644))

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tempDir := t.TempDir()
	api := &fakeAPI{}
	b := New(api, db, Options{
		Home:     home,
		OwnerID:  ownerID,
		Confine:  true,
		MaxBytes: maxBytes,
		TempDir:  tempDir,
	}, zerolog.Nop())
	return &fixture{bot: b, api: api, db: db, home: home, tempDir: tempDir}
}

func startUpdate(from int64) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		MessageID: 1,
		From:      &telegram.User{ID: from, Username: "someone"},
		Chat:      telegram.Chat{ID: ownerChat},
		Text:      "/start",
	}}
}

func callbackUpdate(data string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb",
		From:    telegram.User{ID: ownerID},
		Message: &telegram.Message{MessageID: 2, Chat: telegram.Chat{ID: ownerChat}},
		Data:    data,
	}}
}

func (f *fixture) press(t *testing.T, data string) {
	t.Helper()
	f.bot.HandleUpdate(context.Background(), callbackUpdate(data))
}

func TestUnauthorizedDropped(t *testing.T) {
	f := newFixture(t, 0)
	f.bot.HandleUpdate(context.Background(), startUpdate(999))

	assert.Empty(t, f.api.sent)
	assert.Empty(t, f.bot.sessions)

	cb := callbackUpdate("upload//")
	cb.CallbackQuery.From.ID = 999
	f.bot.HandleUpdate(context.Background(), cb)
	assert.Empty(t, f.api.answers)
	assert.Empty(t, f.api.docs)
}

func TestStartSendsMenu(t *testing.T) {
	f := newFixture(t, 0)
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))

	require.Len(t, f.api.sent, 2)
	assert.Equal(t, introText, f.api.sent[0].Text)
	assert.Equal(t, "path:/", f.api.sent[1].Text)

	kb := f.api.sent[1].Markup.InlineKeyboard
	require.Len(t, kb, 3)
	assert.Equal(t, "cd//..", kb[0][0].CallbackData)
	assert.Equal(t, "upload//", kb[0][1].CallbackData)
	assert.Equal(t, "📁docs", kb[1][0].Text)
	assert.Equal(t, "cd//0", kb[1][0].CallbackData)
	assert.Equal(t, "📄a.txt", kb[2][0].Text)
	assert.Equal(t, "select//1", kb[2][1].CallbackData)

	chat, err := f.db.OwnerChat()
	require.NoError(t, err)
	assert.Equal(t, ownerChat, chat)
}

func TestStartResetsExistingSession(t *testing.T) {
	f := newFixture(t, 0)
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))
	f.press(t, "cd//0")
	require.Len(t, f.api.edits, 1)
	assert.Equal(t, "path:/docs/", f.api.edits[0].Text)

	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))
	assert.Len(t, f.bot.sessions, 1)
	assert.Equal(t, "path:/", f.api.sent[len(f.api.sent)-1].Text)
}

func TestSelectEditsCaption(t *testing.T) {
	f := newFixture(t, 0)
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))

	f.press(t, "select//1")
	require.Len(t, f.api.edits, 1)
	assert.Equal(t, "path:/\nSelected:~11B", f.api.edits[0].Text)
	assert.Equal(t, 2, f.api.edits[0].MessageID)
	assert.Equal(t, "🔘Selected", f.api.edits[0].Markup.InlineKeyboard[2][1].Text)
}

func TestNavigateToFileDoesNotEdit(t *testing.T) {
	f := newFixture(t, 0)
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))

	f.press(t, "cd//1")
	assert.Empty(t, f.api.edits)
	assert.Equal(t, []string{""}, f.api.answers)
}

func TestParentAtHomeDoesNotEdit(t *testing.T) {
	f := newFixture(t, 0)
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))

	f.press(t, "cd//..")
	assert.Empty(t, f.api.edits)
}

func TestBadCallbacks(t *testing.T) {
	f := newFixture(t, 0)

	f.press(t, "select//0")
	assert.Equal(t, []string{"Send /start first"}, f.api.answers)

	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))
	f.press(t, "bogus")
	f.press(t, "select//42")
	assert.Empty(t, f.api.edits)
	require.Len(t, f.api.answers, 3)
	assert.Equal(t, "", f.api.answers[1])
	assert.Equal(t, "Menu is out of date, send /start", f.api.answers[2])
}

func TestFetchSendsArchive(t *testing.T) {
	f := newFixture(t, 0)
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))
	f.press(t, "select//1")
	f.press(t, "upload//")

	require.Len(t, f.api.docs, 1)
	doc := f.api.docs[0]
	assert.Equal(t, "a.txt.zip", doc.Name)

	zr, err := zip.NewReader(strings.NewReader(string(doc.Data)), int64(len(doc.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "a.txt", zr.File[0].Name)

	left, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, left, "archive must be removed after upload")
}

func TestFetchEmptySelection(t *testing.T) {
	f := newFixture(t, 0)
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))
	f.press(t, "upload//")

	assert.Empty(t, f.api.docs)
	assert.Equal(t, "Nothing selected.", f.api.sent[len(f.api.sent)-1].Text)
}

func TestFetchOverLimit(t *testing.T) {
	f := newFixture(t, 5)
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))
	f.press(t, "select//1")
	f.press(t, "upload//")

	assert.Empty(t, f.api.docs)
	assert.True(t, strings.HasPrefix(f.api.sent[len(f.api.sent)-1].Text, "Can't upload: selection is"))

	left, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFetchTransmissionFailure(t *testing.T) {
	f := newFixture(t, 0)
	f.api.docErr = errors.New("connection reset")
	f.bot.HandleUpdate(context.Background(), startUpdate(ownerID))
	f.press(t, "select//0")

	s := f.bot.sessions[ownerChat]
	err := f.bot.sendArchive(context.Background(), ownerChat, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransmission)
	assert.Equal(t, "Can't upload file.", f.api.sent[len(f.api.sent)-1].Text)

	left, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunStoresOffset(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.db.SetUpdateOffset(10))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.api.cancel = cancel
	start := startUpdate(ownerID)
	start.UpdateID = 10
	sel := callbackUpdate("select//1")
	sel.UpdateID = 11
	f.api.batches = [][]telegram.Update{{start}, {sel}}

	require.NoError(t, f.bot.Run(ctx))

	assert.Equal(t, []int64{10, 11, 12}, f.api.offsets)
	offset, err := f.db.UpdateOffset()
	require.NoError(t, err)
	assert.Equal(t, int64(12), offset)
	assert.Len(t, f.api.edits, 1)
}

func TestIsStart(t *testing.T) {
	assert.True(t, isStart("/start"))
	assert.True(t, isStart(" /start@disk_bot "))
	assert.True(t, isStart("/start now"))
	assert.False(t, isStart("/stop"))
	assert.False(t, isStart("start"))
}

func TestRunLogsLastOwnerChat(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.db.SetOwnerChat(ownerChat))

	var buf bytes.Buffer
	f.bot.log = zerolog.New(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.api.cancel = cancel

	require.NoError(t, f.bot.Run(ctx))
	assert.Contains(t, buf.String(), `"last_chat":500`)
}
