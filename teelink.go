// Package teelink provides a Go client for the TeeLink golf-booking member
// API: the paginated room/message endpoints, authentication, session
// bridging for embedded web views, and a realtime channel for chat events.
//
// Example:
//
//	client := teelink.NewClient("https://api.example.com/api")
//	if err := client.Auth().Login(ctx, email, password); err != nil { ... }
//
//	rooms := client.Messages().FetchRooms(ctx, 1)
//
//	rt := teelink.NewRealtimeClient(&teelink.RealtimeConfig{URL: socketURL})
//	conv := teelink.NewConversation(client.Messages(), rt, rooms[0].ID)
//	conv.Open(ctx)
package teelink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout matches the backend's 10-second request budget.
const DefaultTimeout = 10 * time.Second

// ============================================================================
// Client
// ============================================================================

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
	tokens     TokenStore

	auth     *AuthClient
	messages *MessagesClient
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger directs the swallowed-failure log lines somewhere. Without it
// the client is silent.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithTokenStore replaces the default in-memory token store, e.g. with a
// FileTokenStore so the session survives restarts.
func WithTokenStore(store TokenStore) ClientOption {
	return func(c *Client) { c.tokens = store }
}

// NewClient creates a client for the member API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		tokens: NewMemoryTokenStore(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.auth = &AuthClient{client: c}
	c.messages = &MessagesClient{client: c}
	return c
}

// Auth returns the authentication sub-client.
func (c *Client) Auth() *AuthClient {
	return c.auth
}

// Messages returns the message transport sub-client.
func (c *Client) Messages() *MessagesClient {
	return c.messages
}

// Token returns the stored bearer token, or "" when absent.
func (c *Client) Token() string {
	token, err := c.tokens.Token()
	if err != nil {
		c.logf("read token: %v", err)
		return ""
	}
	return token
}

// SetToken stores a bearer token directly, bypassing the login flow.
func (c *Client) SetToken(token string) error {
	return c.tokens.SetToken(token)
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// ============================================================================
// Internal request helpers
// ============================================================================

// doRequest issues a request and unwraps the {success, data, message}
// envelope. The bearer token is attached when present. A nil error with
// Success=false means the server rejected the call.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*APIResult, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result APIResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return &result, nil
}

// doJSON marshals body (when non-nil) and issues a JSON request.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body interface{}) (*APIResult, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.doRequest(ctx, method, path, query, reader, contentType)
}

// ============================================================================
// Message Transport Client
// ============================================================================

// MessagesClient issues the paginated fetch, send, edit and delete calls
// against message.php/room.php. List fetches never return errors: any
// failure (network, rejection, malformed body) collapses to an empty result
// and a log line, so passive polling stays quiet.
type MessagesClient struct{ client *Client }

// FetchRooms returns the room summaries for the given 1-based page, or nil
// on any failure.
func (m *MessagesClient) FetchRooms(ctx context.Context, page int) []Room {
	query := url.Values{"listNum": {strconv.Itoa(page)}}
	res, err := m.client.doRequest(ctx, "GET", "/room.php", query, nil, "")
	if err != nil {
		m.client.logf("fetch rooms page %d: %v", page, err)
		return nil
	}
	if !res.Success {
		m.client.logf("fetch rooms page %d: %v", page, res.Err())
		return nil
	}
	var data struct {
		Rooms []Room `json:"rooms"`
	}
	if err := res.Decode(&data); err != nil {
		m.client.logf("fetch rooms page %d: decode: %v", page, err)
		return nil
	}
	return data.Rooms
}

// FetchMessages returns the messages for a room, newest-first as served by
// the backend, for the given 1-based page. An empty result means "no more
// data"; callers must treat failures and end-of-list identically.
func (m *MessagesClient) FetchMessages(ctx context.Context, roomID, page int) []Message {
	query := url.Values{
		"reserve_id": {strconv.Itoa(roomID)},
		"page":       {strconv.Itoa(page)},
	}
	res, err := m.client.doRequest(ctx, "GET", "/message.php", query, nil, "")
	if err != nil {
		m.client.logf("fetch messages room %d page %d: %v", roomID, page, err)
		return nil
	}
	if !res.Success {
		m.client.logf("fetch messages room %d page %d: %v", roomID, page, res.Err())
		return nil
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		m.client.logf("fetch messages room %d page %d: decode: %v", roomID, page, err)
		return nil
	}
	return msgs
}

// Send posts a message with up to MaxAttachments files as a multipart form.
// It returns the created message, or nil on any failure. There is no retry;
// the caller decides whether to restore its input state.
func (m *MessagesClient) Send(ctx context.Context, roomID int, text, quoteText string, attachments []Attachment) *Message {
	if len(attachments) > MaxAttachments {
		m.client.logf("send message room %d: %d attachments exceeds limit of %d", roomID, len(attachments), MaxAttachments)
		return nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("reserve_id", strconv.Itoa(roomID))
	_ = w.WriteField("message", text)
	if quoteText != "" {
		_ = w.WriteField("quote_text", quoteText)
	}
	for i, att := range attachments {
		field := fmt.Sprintf("file_attach_%d", i+1)
		part, err := createFilePart(w, field, att)
		if err != nil {
			m.client.logf("send message room %d: build form: %v", roomID, err)
			return nil
		}
		if _, err := part.Write(att.Data); err != nil {
			m.client.logf("send message room %d: write attachment: %v", roomID, err)
			return nil
		}
	}
	if err := w.Close(); err != nil {
		m.client.logf("send message room %d: close form: %v", roomID, err)
		return nil
	}

	query := url.Values{"reserve_id": {strconv.Itoa(roomID)}}
	res, err := m.client.doRequest(ctx, "POST", "/message.php", query, &buf, w.FormDataContentType())
	if err != nil {
		m.client.logf("send message room %d: %v", roomID, err)
		return nil
	}
	if !res.Success {
		m.client.logf("send message room %d: %v", roomID, res.Err())
		return nil
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		m.client.logf("send message room %d: decode: %v", roomID, err)
		return nil
	}
	return &msg
}

// Edit replaces a message's body. Returns the updated message, or nil on
// failure.
func (m *MessagesClient) Edit(ctx context.Context, roomID int, messageID MessageID, newText string) *Message {
	query := url.Values{"reserve_id": {strconv.Itoa(roomID)}}
	payload := map[string]string{
		"messageId": string(messageID),
		"message":   newText,
	}
	res, err := m.client.doJSON(ctx, "PATCH", "/message.php", query, payload)
	if err != nil {
		m.client.logf("edit message %s room %d: %v", messageID, roomID, err)
		return nil
	}
	if !res.Success {
		m.client.logf("edit message %s room %d: %v", messageID, roomID, res.Err())
		return nil
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		m.client.logf("edit message %s room %d: decode: %v", messageID, roomID, err)
		return nil
	}
	return &msg
}

// Delete removes a message and reports whether the server confirmed it.
func (m *MessagesClient) Delete(ctx context.Context, roomID int, messageID MessageID) bool {
	query := url.Values{
		"id":         {string(messageID)},
		"reserve_id": {strconv.Itoa(roomID)},
	}
	res, err := m.client.doRequest(ctx, "DELETE", "/message.php", query, nil, "")
	if err != nil {
		m.client.logf("delete message %s room %d: %v", messageID, roomID, err)
		return false
	}
	if !res.Success {
		m.client.logf("delete message %s room %d: %v", messageID, roomID, res.Err())
		return false
	}
	return true
}

func createFilePart(w *multipart.Writer, field string, att Attachment) (io.Writer, error) {
	mimeType := att.MIME
	if mimeType == "" {
		mimeType = guessMimeType(att.Name)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, att.Name))
	h.Set("Content-Type", mimeType)
	return w.CreatePart(h)
}

// guessMimeType returns a MIME type from the file extension.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".yaml": "text/yaml", ".yml": "text/yaml",
		".webp": "image/webp", ".webm": "video/webm",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		// Strip charset parameter (e.g. "text/plain; charset=utf-8" → "text/plain")
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

// ============================================================================
// Auth Client
// ============================================================================

// AuthClient handles login, profile and web-session bootstrapping. Unlike
// the message transport, its calls return errors: authentication failures
// must reach the caller so it can route to the login flow.
type AuthClient struct{ client *Client }

// Login exchanges credentials for a bearer token and stores it.
func (a *AuthClient) Login(ctx context.Context, email, password string) error {
	payload := map[string]string{"email": email, "password": password}
	res, err := a.client.doJSON(ctx, "POST", "/login.php", nil, payload)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := res.Decode(&data); err != nil {
		return fmt.Errorf("login: decode: %w", err)
	}
	if data.Token == "" {
		return fmt.Errorf("login: server returned no token")
	}
	if err := a.client.tokens.SetToken(data.Token); err != nil {
		return fmt.Errorf("login: store token: %w", err)
	}
	return nil
}

// Profile fetches the member profile for the stored token. It returns
// ErrNotAuthenticated when no token is stored, and wraps it when the server
// rejects the token, so callers can redirect to login either way.
func (a *AuthClient) Profile(ctx context.Context) (*User, error) {
	if a.client.Token() == "" {
		return nil, ErrNotAuthenticated
	}
	res, err := a.client.doRequest(ctx, "GET", "/profile.php", nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("profile: %w: %v", ErrNotAuthenticated, res.Err())
	}
	var data struct {
		Profile User `json:"profile"`
	}
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("profile: decode: %w", err)
	}
	return &data.Profile, nil
}

// AutoLogin asks the backend to open a web session for the stored token and
// returns the session cookie triple. Callers pass it to BridgeSession so
// embedded web pages see an authenticated session without a second login.
func (a *AuthClient) AutoLogin(ctx context.Context) (*Session, error) {
	if a.client.Token() == "" {
		return nil, ErrNotAuthenticated
	}
	res, err := a.client.doJSON(ctx, "POST", "/autoLogin.php", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("autologin: %w", err)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("autologin: %w", err)
	}
	var data struct {
		Session Session `json:"session"`
	}
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("autologin: decode: %w", err)
	}
	return &data.Session, nil
}

// Logout discards the stored bearer token.
func (a *AuthClient) Logout() error {
	return a.client.tokens.Clear()
}
