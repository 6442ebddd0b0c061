// Package notify implements the run report delivery over the Telegram
// Bot API. Delivery is best-effort: failures are logged and swallowed,
// the next cron run sends a fresh report anyway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier posts text and photo messages to one chat. The zero-value
// token/chat configuration produces a silent no-op notifier; callers
// never need to branch on whether notification is enabled.
type Notifier struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
	logger  arbor.ILogger
}

// New builds a notifier. token and chatID may be empty, in which case
// every send is a benign no-op.
func New(token, chatID string, logger arbor.ILogger) *Notifier {
	return &Notifier{
		apiBase: defaultAPIBase,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// WithAPIBase overrides the API endpoint. Used by tests.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = base
	return n
}

// Configured reports whether messages will actually be sent.
func (n *Notifier) Configured() bool {
	return n.token != "" && n.chatID != ""
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	Ok     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

// SendText posts an HTML-formatted message and returns the message id.
// Network errors are logged at warning level and reported as !ok; they
// never propagate.
func (n *Notifier) SendText(ctx context.Context, html string) (int64, bool) {
	if !n.Configured() {
		return 0, true
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    n.chatID,
		Text:      html,
		ParseMode: "HTML",
	})
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to encode Telegram message")
		return 0, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiBase+"/bot"+n.token+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to build Telegram request")
		return 0, false
	}
	req.Header.Set("Content-Type", "application/json")

	result, ok := n.do(req)
	if !ok {
		return 0, false
	}
	return result.Result.MessageID, true
}

// SendPhoto uploads a PNG with a caption via multipart form.
func (n *Notifier) SendPhoto(ctx context.Context, image []byte, caption string) bool {
	if !n.Configured() {
		return true
	}
	if len(image) == 0 {
		return false
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", n.chatID); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to build photo form")
		return false
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to build photo form")
			return false
		}
	}
	part, err := writer.CreateFormFile("photo", "screenshot.png")
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to build photo form")
		return false
	}
	if _, err := part.Write(image); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to build photo form")
		return false
	}
	if err := writer.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to build photo form")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiBase+"/bot"+n.token+"/sendPhoto", &body)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to build Telegram request")
		return false
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, ok := n.do(req)
	return ok
}

func (n *Notifier) do(req *http.Request) (*apiResponse, bool) {
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Telegram request failed")
		return nil, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		n.logger.Warn().Err(err).Msg("Reading Telegram response failed")
		return nil, false
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil || !result.Ok {
		n.logger.Warn().
			Int("status", resp.StatusCode).
			Str("description", result.Description).
			Msg(fmt.Sprintf("Telegram API rejected %s", req.URL.Path))
		return nil, false
	}
	return &result, true
}
