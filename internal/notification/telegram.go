package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"unicode/utf8"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/errors"
	"github.com/roadsentry/roadsentry-go/internal/jobqueue"
	"github.com/roadsentry/roadsentry-go/internal/logging"
)

const (
	telegramBaseURL = "https://api.telegram.org"

	// Bot API hard limits
	maxMessageLength = 4096
	maxCaptionLength = 1024
)

// TelegramTransport delivers tasks through the Telegram Bot API. Tasks with
// a photo go out as sendPhoto with the message as caption, the rest as
// sendMessage.
type TelegramTransport struct {
	token      string
	alertChat  string
	reportChat string
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
}

// NewTelegramTransport builds the transport from settings. The bot token
// comes from TELEGRAM_BOT_TOKEN and is required.
func NewTelegramTransport(settings *conf.TelegramSettings) (*TelegramTransport, error) {
	if settings.Token == "" {
		return nil, errors.Newf("TELEGRAM_BOT_TOKEN is not set").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &TelegramTransport{
		token:      settings.Token,
		alertChat:  settings.AlertChat,
		reportChat: settings.ReportChat,
		baseURL:    telegramBaseURL,
		client:     &http.Client{Timeout: settings.Timeout},
		logger:     logging.ForService("telegram"),
	}, nil
}

func (t *TelegramTransport) Name() string { return "telegram" }

// CheckAvailability verifies the bot token against the getMe endpoint.
func (t *TelegramTransport) CheckAvailability(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.methodURL("getMe"), http.NoBody)
	if err != nil {
		return errors.New(err).Component("notification").Category(errors.CategoryNetwork).Build()
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("operation", "telegram_get_me").
			Build()
	}
	defer t.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("telegram getMe returned status %d", resp.StatusCode).
			Component("notification").
			Category(errors.CategoryDelivery).
			Context("status_code", fmt.Sprintf("%d", resp.StatusCode)).
			Build()
	}
	return nil
}

// Send delivers one task to the chat mapped from its channel.
func (t *TelegramTransport) Send(ctx context.Context, task *Task) error {
	chatID := t.chatFor(task.Channel)
	if chatID == "" {
		return jobqueue.Permanent(errors.Newf("no chat configured for channel %q", task.Channel).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build())
	}

	if len(task.Photo) > 0 {
		return t.sendPhoto(ctx, chatID, task)
	}
	return t.sendMessage(ctx, chatID, task)
}

func (t *TelegramTransport) chatFor(channel Channel) string {
	switch channel {
	case ChannelAlerts:
		return t.alertChat
	case ChannelReports:
		return t.reportChat
	default:
		return ""
	}
}

func (t *TelegramTransport) sendMessage(ctx context.Context, chatID string, task *Task) error {
	text := task.Message
	if task.Title != "" {
		text = task.Title + "\n\n" + text
	}
	payload := map[string]string{
		"chat_id": chatID,
		"text":    truncate(text, maxMessageLength),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return jobqueue.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return jobqueue.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req, task)
}

func (t *TelegramTransport) sendPhoto(ctx context.Context, chatID string, task *Task) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", chatID); err != nil {
		return jobqueue.Permanent(err)
	}
	caption := task.Message
	if task.Title != "" {
		caption = task.Title + "\n\n" + caption
	}
	if err := w.WriteField("caption", truncate(caption, maxCaptionLength)); err != nil {
		return jobqueue.Permanent(err)
	}

	part, err := w.CreateFormFile("photo", "frame.jpg")
	if err != nil {
		return jobqueue.Permanent(err)
	}
	if _, err := part.Write(task.Photo); err != nil {
		return jobqueue.Permanent(err)
	}
	if err := w.Close(); err != nil {
		return jobqueue.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendPhoto"), &buf)
	if err != nil {
		return jobqueue.Permanent(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return t.do(req, task)
}

// do executes the request and classifies the outcome. Network errors,
// timeouts, rate limiting and server errors are transient; any other
// client error will fail the same way on every attempt.
func (t *TelegramTransport) do(req *http.Request, task *Task) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryDelivery).
			Context("operation", "telegram_send").
			Context("task_id", task.ID).
			Build()
	}
	defer t.closeBody(resp)

	if resp.StatusCode == http.StatusOK {
		t.logger.Debug("telegram message delivered",
			"task_id", task.ID, "channel", string(task.Channel), "kind", string(task.Kind))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	category := errors.CategoryDelivery
	if !transientStatus(resp.StatusCode) {
		category = errors.CategoryDeliveryFatal
	}
	sendErr := errors.Newf("telegram returned status %d: %s", resp.StatusCode, string(body)).
		Component("notification").
		Category(category).
		Context("operation", "telegram_send").
		Context("task_id", task.ID).
		Context("status_code", fmt.Sprintf("%d", resp.StatusCode)).
		Build()

	if transientStatus(resp.StatusCode) {
		t.logger.Warn("telegram delivery failed, transient",
			"task_id", task.ID, "status_code", resp.StatusCode)
		return sendErr
	}
	t.logger.Error("telegram delivery rejected",
		"task_id", task.ID, "status_code", resp.StatusCode, "response_body", string(body))
	return jobqueue.Permanent(sendErr)
}

func transientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func (t *TelegramTransport) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

func (t *TelegramTransport) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		t.logger.Debug("failed to close response body", "error", err)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit-3]
	// do not split a multi-byte UTF-8 sequence
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
