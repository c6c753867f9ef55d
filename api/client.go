// Package api is the HTTP client of the walkingbuddy backend. All calls carry the session cookies (the jar is
// shared with the push channel dialer) and a fresh X-Request-ID.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/types"
	"golang.org/x/net/publicsuffix"
)

const (
	pathListRooms    = "/api/rooms/list"
	pathCreateRoom   = "/api/rooms/create"
	pathJoinRoom     = "/api/rooms/join"
	pathLeaveRoom    = "/api/rooms/leave"
	pathRoom         = "/api/rooms/"
	pathVerify       = "/auth/verify"
	pathLogout       = "/auth/logout"
	pathUsers        = "/api/users"
	pathChatSend     = "/api/chat/send"
	pathChatMessages = "/api/chat/%s/messages"
	pathPush         = "/ws/rooms"

	maxErrorBodySize = 4096
)

type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	logger    hclog.Logger
}

// NewClient creates a client for the backend at baseURL with its own cookie jar.
func NewClient(baseURL, userAgent string) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported backend url %q", baseURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Client{
		base:      base,
		http:      &http.Client{Jar: jar},
		userAgent: userAgent,
		logger:    globals.AppLogger.Named("api"),
	}, nil
}

// Jar returns the cookie jar holding the session.
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// PushURL derives the websocket url of the push channel: the scheme mirrors the backend's (https -> wss).
func (c *Client) PushURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + pathPush
	return u.String()
}

// ListRooms returns the full room snapshot. The backend answers {rooms: [...]} or a bare array.
func (c *Client) ListRooms(ctx context.Context) ([]types.Record, error) {
	var body interface{}
	if err := c.do(ctx, http.MethodGet, pathListRooms, nil, &body); err != nil {
		return nil, err
	}
	return recordList(body, "rooms"), nil
}

// CreateRoom posts payload and returns the created room ({room: {...}} or inlined).
func (c *Client) CreateRoom(ctx context.Context, payload types.Record) (types.Record, error) {
	var body map[string]interface{}
	if err := c.do(ctx, http.MethodPost, pathCreateRoom, payload, &body); err != nil {
		return nil, err
	}
	return unwrap(body, "room"), nil
}

// JoinRoom joins roomId and returns the updated room. userId may be empty, the session identifies the user then.
func (c *Client) JoinRoom(ctx context.Context, roomId, userId string) (types.Record, error) {
	return c.membership(ctx, pathJoinRoom, roomId, userId)
}

func (c *Client) LeaveRoom(ctx context.Context, roomId, userId string) (types.Record, error) {
	return c.membership(ctx, pathLeaveRoom, roomId, userId)
}

func (c *Client) membership(ctx context.Context, path, roomId, userId string) (types.Record, error) {
	payload := types.Record{"room_id": roomId}
	if userId != "" {
		payload["user_id"] = userId
	}
	var body map[string]interface{}
	if err := c.do(ctx, http.MethodPost, path, payload, &body); err != nil {
		return nil, err
	}
	return unwrap(body, "room"), nil
}

func (c *Client) DeleteRoom(ctx context.Context, roomId string) error {
	return c.do(ctx, http.MethodDelete, pathRoom+url.PathEscape(roomId), nil, nil)
}

// Verify returns the user of the current session; an *Error with a non-2xx status if there is none.
func (c *Client) Verify(ctx context.Context) (types.Record, error) {
	var body map[string]interface{}
	if err := c.do(ctx, http.MethodGet, pathVerify, nil, &body); err != nil {
		return nil, err
	}
	return unwrap(body, "user"), nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, pathLogout, nil, nil)
}

// LookupUsers resolves several user ids in one request and returns the records by the requested id.
func (c *Client) LookupUsers(ctx context.Context, ids []string) (map[string]types.Record, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	var body interface{}
	if err := c.do(ctx, http.MethodGet, pathUsers+"?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	users := make(map[string]types.Record)
	for _, u := range recordList(body, "users") {
		for _, key := range []string{"user_id", "id", "userId"} {
			if id, ok := u[key]; ok && id != nil {
				users[fmt.Sprint(id)] = u
				break
			}
		}
	}
	return users, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (types.Record, error) {
	var body map[string]interface{}
	if err := c.do(ctx, http.MethodGet, pathUsers+"/"+url.PathEscape(id), nil, &body); err != nil {
		return nil, err
	}
	return unwrap(body, "user"), nil
}

// ListMessages returns the last limit chat messages of a room ({messages: [...]} or a bare array).
func (c *Client) ListMessages(ctx context.Context, roomId string, limit int) ([]types.Record, error) {
	path := fmt.Sprintf(pathChatMessages, url.PathEscape(roomId))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var body interface{}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return recordList(body, "messages"), nil
}

func (c *Client) SendMessage(ctx context.Context, roomId, userId, content string) (types.Record, error) {
	payload := types.Record{"room_id": roomId, "user_id": userId, "content": content}
	var body map[string]interface{}
	if err := c.do(ctx, http.MethodPost, pathChatSend, payload, &body); err != nil {
		return nil, err
	}
	return unwrap(body, "message"), nil
}

// do performs the request and decodes a JSON response into out (may be nil). Non-2xx responses become *Error.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reqBody)
	if err != nil {
		return err
	}
	requestId := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestId)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		apiErr := newError(resp.StatusCode, raw, requestId)
		c.logger.Debug("request failed", "method", method, "path", path, "error", apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("could not decode %s %s response: %w", method, path, err)
	}
	return nil
}

// unwrap returns body[key] if it is an object and the body itself if key is absent (inlined record). A key
// holding anything else (null, a status text) means there is no record.
func unwrap(body map[string]interface{}, key string) types.Record {
	v, present := body[key]
	if !present {
		if body == nil {
			return nil
		}
		return types.Record(body)
	}
	if inner, ok := v.(map[string]interface{}); ok {
		return types.Record(inner)
	}
	return nil
}

// recordList accepts {key: [...]} or [...] and drops non-object elements.
func recordList(body interface{}, key string) []types.Record {
	var items []interface{}
	switch b := body.(type) {
	case []interface{}:
		items = b
	case map[string]interface{}:
		items, _ = b[key].([]interface{})
	}
	records := make([]types.Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			records = append(records, types.Record(m))
		}
	}
	return records
}
