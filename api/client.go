// Package api talks to the chat server's request/response endpoints, which
// live outside the live event stream: history pagination, conversation
// search, and attachment upload.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatsync/models"
)

const (
	// DefaultRequestTimeout bounds each request/response call.
	DefaultRequestTimeout = 10 * time.Second
)

// Attachment describes a stored upload, sent onward as a file message.
type Attachment struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

// Client is a thin wrapper around the server's HTTP API.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

// NewClient creates a client for the given server base URL authenticated by
// a bearer credential.
func NewClient(baseURL, credential string) *Client {
	return &Client{
		baseURL:    baseURL,
		credential: credential,
		httpClient: &http.Client{
			Timeout: DefaultRequestTimeout,
		},
	}
}

// FetchConversationPage returns one page of conversation history between
// meID and peerID, ordered oldest-first, skipping the given offset.
func (c *Client) FetchConversationPage(ctx context.Context, meID, peerID string, limit, skip int) ([]models.Message, error) {
	if meID == "" || peerID == "" {
		return nil, errors.New("api: both participant ids are required")
	}

	query := url.Values{}
	query.Set("user1", meID)
	query.Set("user2", peerID)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("skip", strconv.Itoa(skip))

	var messages []models.Message
	if err := c.getJSON(ctx, "messages/conversation", query, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SearchConversation returns messages between meID and peerID matching the
// query string, capped at limit.
func (c *Client) SearchConversation(ctx context.Context, meID, peerID, queryText string, limit int) ([]models.Message, error) {
	if meID == "" || peerID == "" {
		return nil, errors.New("api: both participant ids are required")
	}

	query := url.Values{}
	query.Set("user1", meID)
	query.Set("user2", peerID)
	query.Set("q", queryText)
	query.Set("limit", strconv.Itoa(limit))

	var messages []models.Message
	if err := c.getJSON(ctx, "messages/search", query, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// UploadAttachment stores one file on the server via multipart upload and
// returns its descriptor.
func (c *Client) UploadAttachment(ctx context.Context, fromID, toID, filename string, file io.Reader) (*Attachment, error) {
	if fromID == "" || toID == "" {
		return nil, errors.New("api: both participant ids are required")
	}
	if filename == "" {
		return nil, errors.New("api: filename is required")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create multipart file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy upload content: %w", err)
	}
	if err := writer.WriteField("from", fromID); err != nil {
		return nil, fmt.Errorf("write upload sender field: %w", err)
	}
	if err := writer.WriteField("to", toID); err != nil {
		return nil, fmt.Errorf("write upload recipient field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("upload"), &body)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var attachment Attachment
	if err := json.Unmarshal(respBody, &attachment); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &attachment, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.endpoint(path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request for %q: %w", path, err)
	}
	c.authorize(req)

	respBody, err := c.do(req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response for %q: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/api/%s", c.baseURL, path)
}

func (c *Client) authorize(req *http.Request) {
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
}
