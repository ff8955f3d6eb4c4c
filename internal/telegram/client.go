package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// headerPrefix identifies the message as a broadcast to the recipient.
const headerPrefix = "📢 <b>Уведомление</b>"

// readButtonLabel is the default inline action under every broadcast message.
const readButtonLabel = "✅ Прочитано"

// Button describes the single inline action attached to a message.
// URL takes precedence; otherwise CallbackData is used.
type Button struct {
	Label        string
	URL          string
	CallbackData string
}

// Message is one outbound broadcast message. When Button is nil the client
// attaches the default mark-as-read callback carrying the broadcast id.
type Message struct {
	BroadcastID string
	Text        string
	Button      *Button
}

// Client sends one message to one recipient. No client-side retries;
// retry policy belongs to the drain worker. Errors are typed SendErrors.
type Client interface {
	Send(ctx context.Context, recipient string, msg Message) error
}

// ---- Bot API wire types ----

type inlineButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// BotClient delivers messages through the Telegram Bot API, one POST per
// message. The base URL is injected from config so tests can point to a
// local mock server.
type BotClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewBotClient(baseURL, token string, timeout time.Duration) *BotClient {
	return &BotClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts a single sendMessage call. The text is wrapped with the
// broadcast header and rendered with HTML parse mode.
func (c *BotClient) Send(ctx context.Context, recipient string, msg Message) error {
	button := msg.Button
	if button == nil {
		button = &Button{
			Label:        readButtonLabel,
			CallbackData: "broadcast:read:" + msg.BroadcastID,
		}
	}
	btn := inlineButton{Text: button.Label}
	if button.URL != "" {
		btn.URL = button.URL
	} else {
		btn.CallbackData = button.CallbackData
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    recipient,
		Text:      headerPrefix + "\n\n" + msg.Text,
		ParseMode: "HTML",
		ReplyMarkup: &replyMarkup{
			InlineKeyboard: [][]inlineButton{{btn}},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendError{Kind: KindNetwork, Description: err.Error()}
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &SendError{Kind: KindOther, StatusCode: resp.StatusCode, Description: "unreadable response body"}
		}
		return classify(resp.StatusCode, "unreadable response body")
	}
	if apiResp.OK {
		return nil
	}
	return classify(resp.StatusCode, apiResp.Description)
}

// compile-time check that BotClient implements Client
var _ Client = (*BotClient)(nil)
