package teelink

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIResult is the generic server envelope. Every endpoint responds with
// {success, data, message?}; callers never see HTTP status codes.
type APIResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Err returns a server-rejected error when the envelope reports failure.
func (r *APIResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Message != "" {
		return fmt.Errorf("server rejected request: %s", r.Message)
	}
	return errors.New("server rejected request")
}

// Sentinel errors surfaced by the SDK.
var (
	// ErrNotAuthenticated is returned when a token-dependent call runs
	// without a stored token. Callers typically redirect to the login flow.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSendFailed is returned by Conversation.Send when the transport
	// call fails; the draft has already been restored when this is returned.
	ErrSendFailed = errors.New("send message failed")

	// ErrEditFailed is returned by Conversation.Edit when the transport
	// call fails. Unlike list fetches, edit failures are meant to be shown
	// to the user.
	ErrEditFailed = errors.New("edit message failed")
)

// ============================================================================
// Flexible scalar types
// ============================================================================

// MessageID identifies a message within a room. The backend is loose about
// the representation (integers from the list endpoint, strings over the
// realtime channel), so it unmarshals from either.
type MessageID string

func (id *MessageID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("message id must be a string or number: %w", err)
	}
	*id = MessageID(n.String())
	return nil
}

// FlexInt unmarshals from either a JSON number or a numeric string. The PHP
// backend emits both depending on the endpoint.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err2 := json.Unmarshal(b, &s); err2 != nil {
			return fmt.Errorf("expected a number or numeric string: %w", err)
		}
		n = json.Number(s)
	}
	v, err := n.Int64()
	if err != nil {
		return err
	}
	*f = FlexInt(v)
	return nil
}

// ============================================================================
// Message
// ============================================================================

// AuthorClass distinguishes the two message authors in a room: the booking
// member (this user) and the golf-club counterpart. It drives left/right
// rendering and whether edit/delete actions apply.
type AuthorClass string

const (
	AuthorMember AuthorClass = "member"
	AuthorAdmin  AuthorClass = "admin"
)

// MaxAttachments is the per-message attachment limit enforced by the backend.
const MaxAttachments = 5

// Message is one chat message in a room. Field names follow the message.php
// wire format.
type Message struct {
	ID          MessageID   `json:"id"`
	Body        string      `json:"message"`
	QuoteText   string      `json:"quote_text,omitempty"`
	AuthorClass AuthorClass `json:"created_type_user"`
	CreatedBy   string      `json:"created_by,omitempty"`
	CreatedAt   string      `json:"created_at,omitempty"`
	GolfClubImg string      `json:"golf_club_img,omitempty"`

	// The backend denormalizes attachments into five fixed slots.
	FileAttach1 string `json:"file_attach_1,omitempty"`
	FileAttach2 string `json:"file_attach_2,omitempty"`
	FileAttach3 string `json:"file_attach_3,omitempty"`
	FileAttach4 string `json:"file_attach_4,omitempty"`
	FileAttach5 string `json:"file_attach_5,omitempty"`
}

// Mine reports whether the message was authored by the booking member.
func (m *Message) Mine() bool {
	return m.AuthorClass == AuthorMember
}

// Attachments returns the populated attachment paths in slot order.
func (m *Message) Attachments() []string {
	var paths []string
	for _, p := range []string{m.FileAttach1, m.FileAttach2, m.FileAttach3, m.FileAttach4, m.FileAttach5} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Attachment is an outgoing file for Send. MIME is guessed from the file
// name when empty.
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// ============================================================================
// Room
// ============================================================================

// Room is a read-only conversation summary. Its ID doubles as the backend
// reservation identifier (reserve_id).
type Room struct {
	ID           int    `json:"id"`
	GolfClubName string `json:"golfClubName"`
	GolfClubImg  string `json:"golfClubImg,omitempty"`
	PlanName     string `json:"planName"`
	LatestDate   string `json:"latestDate,omitempty"`
	UnreadCount  int    `json:"unreadCount"`
}

// ============================================================================
// Auth
// ============================================================================

// User is the member profile returned by profile.php.
type User struct {
	ID             int    `json:"id"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"mail"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	BirthDate      string `json:"birth_date,omitempty"`
	Sex            string `json:"sex,omitempty"`
}

// Session is the web-session triple returned by autoLogin.php. It exists so
// an embedded browser can share the native authentication: the cookie it
// describes is injected into a cookie jar for each language-variant domain.
type Session struct {
	ID           string `json:"session_id"`
	CookieName   string `json:"cookie_name"`
	CookieDomain string `json:"cookie_domain"`
}
