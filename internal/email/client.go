package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BatchResult reports the per-recipient outcome of one bulk submission.
// The batch is never atomic: any subset of recipients may fail.
type BatchResult struct {
	Sent             int
	Failed           int
	FailedRecipients []string
}

// Client submits a bulk email. Implementations deliver one submission per
// recipient internally so partial failures stay representable.
type Client interface {
	SendBatch(ctx context.Context, recipients []string, subject, htmlBody, textBody string) (*BatchResult, error)
}

type sendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
}

// HTTPClient delivers through a transactional email provider's HTTP API,
// one POST per recipient. The base URL and key come from config so tests
// can point at a local mock.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, apiKey, from string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendBatch posts one message per recipient and aggregates the outcomes.
// A recipient-level failure never aborts the rest of the batch.
func (c *HTTPClient) SendBatch(ctx context.Context, recipients []string, subject, htmlBody, textBody string) (*BatchResult, error) {
	result := &BatchResult{}
	for _, recipient := range recipients {
		if err := c.sendOne(ctx, recipient, subject, htmlBody, textBody); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			result.FailedRecipients = append(result.FailedRecipients, recipient)
			continue
		}
		result.Sent++
	}
	return result, nil
}

func (c *HTTPClient) sendOne(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	body, err := json.Marshal(sendRequest{
		From:     c.from,
		To:       recipient,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected provider status: %d", resp.StatusCode)
	}
	return nil
}

// compile-time check that HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)
