package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"streamsession/native/internal/domain"

	"github.com/google/uuid"
)

const ticketPath = "/streaming/ticket"

type ticketRequest struct {
	RequestID string `json:"requestId"`
	ClientApp string `json:"clientApp"`
}

type ticketResponse struct {
	Result int           `json:"result"`
	Msg    string        `json:"msg"`
	Data   domain.Ticket `json:"data"`
}

// Client fetches channel tickets from the streaming API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewClient creates an API client. A nil httpClient uses a client with a
// 15 second timeout.
func NewClient(baseURL, apiToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		httpClient: httpClient,
	}
}

// FetchTicket calls the streaming API to obtain the channel endpoint and a
// short-lived channel access token.
func (c *Client) FetchTicket(ctx context.Context) (*domain.Ticket, error) {
	body, err := json.Marshal(ticketRequest{
		RequestID: uuid.NewString(),
		ClientApp: "streamsession",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ticket request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ticketPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var ticketResp ticketResponse
	if err := json.Unmarshal(respBody, &ticketResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if ticketResp.Result != 0 {
		return nil, fmt.Errorf("API error (result=%d): %s", ticketResp.Result, ticketResp.Msg)
	}
	if ticketResp.Data.ChannelURL == "" {
		return nil, fmt.Errorf("API returned ticket without channel URL")
	}

	return &ticketResp.Data, nil
}

// StaticTickets returns the same ticket on every call. It is used when the
// channel URL is configured directly.
type StaticTickets struct {
	Ticket domain.Ticket
}

// FetchTicket returns a copy of the configured ticket.
func (s StaticTickets) FetchTicket(context.Context) (*domain.Ticket, error) {
	t := s.Ticket
	return &t, nil
}
