// Package provider adapts the external messaging gateway to the engine's
// MessagingProvider contract. It owns no wire format beyond the gateway's
// JSON API.
package provider

import (
	"context"
	"fmt"
	"time"

	"sendloop/campaign"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(apiKey).
		SetTimeout(30 * time.Second).
		SetRetryCount(0)
	return &Client{http: http}
}

type sendRequest struct {
	Credential string `json:"credential"`
	Handle     string `json:"handle"`
	Text       string `json:"text"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

func (c *Client) SendDirectMessage(ctx context.Context, credential, handle, text string) (*campaign.SendResult, error) {
	var body sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		// Lets the gateway drop duplicates if a timeout forces a retry upstream.
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetBody(sendRequest{Credential: credential, Handle: handle, Text: text}).
		SetResult(&body).
		Post("/v1/messages")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("provider returned %s", resp.Status())
	}
	if !body.Success {
		return nil, fmt.Errorf("provider rejected send: %s", body.Error)
	}
	return &campaign.SendResult{
		ProviderMessageID: body.MessageID,
		ThreadID:          body.ThreadID,
	}, nil
}

type inboxResponse struct {
	Messages []struct {
		FromHandle string    `json:"from_handle"`
		Body       string    `json:"body"`
		MessageID  string    `json:"message_id"`
		ThreadID   string    `json:"thread_id"`
		SentAt     time.Time `json:"sent_at"`
	} `json:"messages"`
}

func (c *Client) FetchInbox(ctx context.Context, credential string, since time.Time) ([]campaign.InboundMessage, error) {
	var body inboxResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Account-Credential", credential).
		SetQueryParam("since", since.UTC().Format(time.RFC3339)).
		SetResult(&body).
		Get("/v1/inbox")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("provider returned %s", resp.Status())
	}

	messages := make([]campaign.InboundMessage, 0, len(body.Messages))
	for _, m := range body.Messages {
		messages = append(messages, campaign.InboundMessage{
			FromHandle:        m.FromHandle,
			Body:              m.Body,
			ProviderMessageID: m.MessageID,
			ThreadID:          m.ThreadID,
			SentAt:            m.SentAt,
		})
	}
	return messages, nil
}
