// Package telegram is a minimal Telegram Bot API client: long polling,
// text messages with inline keyboards, callback answers and document upload.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/justyntemme/diskbot/internal/debug"
	"github.com/rs/zerolog"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// APIError is a response with "ok": false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// IsNotModified reports whether err is Telegram refusing an edit that would
// leave the message unchanged.
func IsNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	log zerolog.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	debug.Log(debug.BOT, "%s %v", msg, keysAndValues)
}

// Defaults for per-call deadlines. The underlying http.Client has no
// timeout of its own because it would also bound document uploads.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultUploadTimeout  = 10 * time.Minute
	defaultPollSlack      = 15 * time.Second
)

type Client struct {
	base string
	http *retryablehttp.Client
	// upload retries less: each attempt resends the whole document.
	upload *retryablehttp.Client
	log    zerolog.Logger

	requestTimeout time.Duration
	uploadTimeout  time.Duration
	// pollSlack is added to the long-poll timeout to form its deadline.
	pollSlack time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithUploadTimeout bounds a whole SendDocument call, retries included.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.uploadTimeout = d
		}
	}
}

// NewClient creates a client for the bot identified by token.
func NewClient(apiURL, token string, logger zerolog.Logger, opts ...Option) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	c := &Client{
		base:           strings.TrimRight(apiURL, "/") + "/bot" + token + "/",
		http:           newRetryClient(5, logger),
		upload:         newRetryClient(2, logger),
		log:            logger,
		requestTimeout: DefaultRequestTimeout,
		uploadTimeout:  DefaultUploadTimeout,
		pollSlack:      defaultPollSlack,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newRetryClient(retryMax int, logger zerolog.Logger) *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.HTTPClient.Timeout = 0
	retryClient.Logger = &retryLogger{log: logger}
	return retryClient
}

// call POSTs params as JSON to method within timeout and decodes the result
// into out.
func (c *Client) call(ctx context.Context, timeout time.Duration, method string, params, out interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+method, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.http, req, method, out)
}

func (c *Client) do(hc *retryablehttp.Client, req *retryablehttp.Request, method string, out interface{}) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("telegram %s: decode (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !ar.OK {
		return &APIError{Method: method, Code: ar.ErrorCode, Description: ar.Description}
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	debug.Log(debug.BOT, "%s: ok", method)
	return nil
}

// GetUpdates long-polls for updates with id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, timeout+c.pollSlack, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts text with an optional inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (*Message, error) {
	params := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if markup != nil {
		params["reply_markup"] = markup
	}
	var msg Message
	if err := c.call(ctx, c.requestTimeout, "sendMessage", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessageText replaces the text and keyboard of a sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *InlineKeyboardMarkup) error {
	params := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if markup != nil {
		params["reply_markup"] = markup
	}
	return c.call(ctx, c.requestTimeout, "editMessageText", params, nil)
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	params := map[string]interface{}{"callback_query_id": id}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, c.requestTimeout, "answerCallbackQuery", params, nil)
}

// SendDocument uploads size bytes of doc as filename. Every attempt reads
// through its own section reader, so a retry never shares a file offset
// with an attempt the transport is still draining.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, doc io.ReaderAt, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	boundary := multipart.NewWriter(io.Discard).Boundary()
	body := func() (io.Reader, error) {
		section := io.NewSectionReader(doc, 0, size)
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(writeDocumentForm(pw, boundary, chatID, filename, section))
		}()
		return pr, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+"sendDocument", retryablehttp.ReaderFunc(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	c.log.Debug().Str("name", filename).Int64("size", size).Msg("Uploading document")
	return c.do(c.upload, req, "sendDocument", nil)
}

func writeDocumentForm(w io.Writer, boundary string, chatID int64, filename string, doc io.Reader) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, doc); err != nil {
		return err
	}
	return mw.Close()
}
