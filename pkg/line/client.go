package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIBaseURL     = "https://api.line.me"
	defaultDataAPIBaseURL = "https://api-data.line.me"
	maxContentBytes       = 50 << 20
)

var (
	ErrEmptyReplyToken  = errors.New("line: reply token is empty")
	ErrTooManyMessages  = fmt.Errorf("line: at most %d messages per call", MaxReplyMessages)
	ErrNoMessages       = errors.New("line: no messages to send")
	ErrContentTooLarge  = errors.New("line: message content too large")
	ErrEmptyAccessToken = errors.New("line: channel access token required")
)

// APIError represents a messaging API error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("line api error (%d): %s", e.Status, e.Message)
}

// Client calls the messaging platform REST API.
type Client struct {
	accessToken string
	baseURL     string
	dataBaseURL string
	httpClient  *http.Client
}

// NewClient constructs a client. Empty base URLs use the public endpoints.
func NewClient(accessToken, baseURL, dataBaseURL string) (*Client, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, ErrEmptyAccessToken
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultAPIBaseURL
	}
	if strings.TrimSpace(dataBaseURL) == "" {
		dataBaseURL = defaultDataAPIBaseURL
	}
	return &Client{
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		dataBaseURL: strings.TrimRight(dataBaseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Reply redeems a single-use reply token for one batch of messages.
func (c *Client) Reply(ctx context.Context, replyToken string, messages []Message) error {
	if strings.TrimSpace(replyToken) == "" {
		return ErrEmptyReplyToken
	}
	if err := checkBatch(messages); err != nil {
		return err
	}
	payload := map[string]any{"replyToken": replyToken, "messages": messages}
	return c.postJSON(ctx, c.baseURL+"/v2/bot/message/reply", payload)
}

// Push sends messages to a user without a reply token.
func (c *Client) Push(ctx context.Context, userID string, messages []Message) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("line: push target required")
	}
	if err := checkBatch(messages); err != nil {
		return err
	}
	payload := map[string]any{"to": userID, "messages": messages}
	return c.postJSON(ctx, c.baseURL+"/v2/bot/message/push", payload)
}

// StartLoading shows the typing indicator in a one-to-one chat.
func (c *Client) StartLoading(ctx context.Context, chatID string, seconds int) error {
	payload := map[string]any{"chatId": chatID, "loadingSeconds": seconds}
	return c.postJSON(ctx, c.baseURL+"/v2/bot/chat/loading/start", payload)
}

// Content downloads the binary payload of a media message.
func (c *Client) Content(ctx context.Context, messageID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v2/bot/message/%s/content", c.dataBaseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.addAuthHeader(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxContentBytes {
		return nil, ErrContentTooLarge
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuthHeader(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) addAuthHeader(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
}

func checkBatch(messages []Message) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}
	if len(messages) > MaxReplyMessages {
		return ErrTooManyMessages
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Message
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
