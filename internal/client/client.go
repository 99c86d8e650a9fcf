// Package client talks to the support chat API. It wraps the REST calls,
// keeps reconnecting event streams, and holds the local state a customer
// widget or an agent dashboard reconciles against.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"supportchat/backend/internal/models"
	"time"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	// RoomID is set on 409 when the customer already has an active room.
	RoomID string `json:"roomId,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("support api: %d %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type MessageInput struct {
	Body      string `json:"body"`
	Type      string `json:"type,omitempty"`
	ProductID *uint  `json:"productId,omitempty"`
}

type RoomPatch struct {
	Status   *models.RoomStatus `json:"status,omitempty"`
	Priority *models.Priority   `json:"priority,omitempty"`
	AgentID  *string            `json:"agentId,omitempty"`
	Tags     []string           `json:"tags,omitempty"`
}

type RoomQuery struct {
	Status   models.RoomStatus
	Priority models.Priority
	Search   string
	AgentID  string
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL (e.g. "https://shop.example/support").
// A nil httpClient uses a client with a 15s timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

type openRoomResponse struct {
	Room    *models.ChatRoom    `json:"room"`
	Message *models.ChatMessage `json:"message"`
}

// OpenRoom creates the caller's room with first as its opening message.
// If the customer already has an active room the error is a 409 APIError
// carrying that room's id.
func (c *Client) OpenRoom(ctx context.Context, subject string, first MessageInput) (*models.ChatRoom, *models.ChatMessage, error) {
	body := map[string]interface{}{"subject": subject, "message": first}
	var resp openRoomResponse
	if err := c.do(ctx, http.MethodPost, "/rooms", nil, body, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Room, resp.Message, nil
}

func (c *Client) ListRooms(ctx context.Context, q RoomQuery) ([]models.ChatRoom, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.Priority != "" {
		params.Set("priority", string(q.Priority))
	}
	if q.Search != "" {
		params.Set("q", q.Search)
	}
	if q.AgentID != "" {
		params.Set("agentId", q.AgentID)
	}
	var resp struct {
		Rooms []models.ChatRoom `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/rooms", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// GetRoom returns the room and up to limit messages with id > afterID.
func (c *Client) GetRoom(ctx context.Context, roomID string, afterID uint, limit int) (*models.ChatRoom, []models.ChatMessage, error) {
	params := url.Values{}
	if afterID > 0 {
		params.Set("afterId", strconv.FormatUint(uint64(afterID), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Room     *models.ChatRoom     `json:"room"`
		Messages []models.ChatMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), params, nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Room, resp.Messages, nil
}

func (c *Client) PostMessage(ctx context.Context, roomID string, in MessageInput) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	if err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/messages", nil, in, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) UpdateRoom(ctx context.Context, roomID string, patch RoomPatch) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := c.do(ctx, http.MethodPatch, "/rooms/"+url.PathEscape(roomID), nil, patch, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// MarkRead clears the caller's unread counter for the room.
func (c *Client) MarkRead(ctx context.Context, roomID string) (int, error) {
	var resp struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/read", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

// Unread returns the caller's unread total across rooms.
func (c *Client) Unread(ctx context.Context) (int, error) {
	var resp struct {
		Total int `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/unread", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
