package ghl

import "time"

// tokenResponse is the CRM's OAuth token endpoint response for both the
// authorization_code and refresh_token grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	LocationID   string `json:"locationId"`
	CompanyID    string `json:"companyId"`
	UserType     string `json:"userType"`
}

// TokenGrant is what an OAuth exchange yields once validated.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	LocationID   string
	CompanyID    string
}

// Attachment is a media reference relayed into a CRM conversation.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
	Type     string `json:"type,omitempty"`
}

// PlatformMessage is the internal message value object posted into (or read
// from) CRM conversations.
type PlatformMessage struct {
	ContactID              string       `json:"contactId,omitempty"`
	LocationID             string       `json:"locationId"`
	Message                string       `json:"message"`
	Direction              string       `json:"direction"`
	ConversationProviderID string       `json:"conversationProviderId,omitempty"`
	Attachments            []Attachment `json:"attachments,omitempty"`
	Phone                  string       `json:"phone,omitempty"`
	Type                   string       `json:"type,omitempty"`
	MessageID              string       `json:"messageId,omitempty"`
	Timestamp              *time.Time   `json:"timestamp,omitempty"`
}

// Contact is the subset of a CRM contact the bridge reads.
type Contact struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Phone string   `json:"phone"`
	Tags  []string `json:"tags"`
}

type contactUpsertRequest struct {
	Name       string   `json:"name,omitempty"`
	LocationID string   `json:"locationId"`
	Phone      string   `json:"phone,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Source     string   `json:"source,omitempty"`
}

type contactUpsertResponse struct {
	New     bool     `json:"new"`
	Contact *Contact `json:"contact"`
}

type contactLookupResponse struct {
	Contact  *Contact  `json:"contact"`
	Contacts []Contact `json:"contacts"`
}

// StatusMeta carries the optional detail fields of a message status update.
type StatusMeta struct {
	Code    string `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// SendResponse is the CRM's acknowledgement of an inbound message post.
type SendResponse struct {
	ID             string `json:"id"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
}
