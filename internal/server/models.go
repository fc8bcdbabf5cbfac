package server

import "github.com/samer-khoury/mizan/models"

// HTTPError is the generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse describes the authenticated account.
type MeResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Guest bool   `json:"guest"`
}

// CreateSessionRequest starts a new consultation thread.
type CreateSessionRequest struct {
	ServiceCode string `json:"service_code,omitempty"`
	Persona     string `json:"persona,omitempty"`
}

// SessionSummary is the list view of one session.
type SessionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	Messages  int    `json:"messages"`
	Current   bool   `json:"current"`
}

// SendRequest submits a user turn for a streamed response.
type SendRequest struct {
	Prompt   string `json:"prompt"`
	FileName string `json:"file_name,omitempty"`
	FileData string `json:"file_data,omitempty"` // base64
	FileMIME string `json:"file_mime,omitempty"`
	Grounded bool   `json:"grounded,omitempty"`
}

// RetryRequest resubmits a failed turn identified by its message ts.
type RetryRequest struct {
	TS int64 `json:"ts"`
}

// BriefRequest asks for a structured research brief.
type BriefRequest struct {
	Issue string `json:"issue"`
}

// WizardFinalizeRequest completes a document wizard.
type WizardFinalizeRequest struct {
	TS     int64             `json:"ts"`
	Values map[string]string `json:"values"`
}

// NameRequest submits the onboarding display name.
type NameRequest struct {
	Name string `json:"name"`
}

// AuthResolveRequest completes the onboarding auth gate.
type AuthResolveRequest struct {
	Guest bool   `json:"guest"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// SessionResponse wraps a full session plus its onboarding state.
type SessionResponse struct {
	Session    *models.Session `json:"session"`
	Onboarding string          `json:"onboarding"`
}

// SearchResponse lists history search hits.
type SearchResponse struct {
	Hits []SearchHitResponse `json:"hits"`
}

// SearchHitResponse is one history search hit.
type SearchHitResponse struct {
	SessionID    string  `json:"session_id"`
	SessionTitle string  `json:"session_title"`
	TS           int64   `json:"ts"`
	Role         string  `json:"role"`
	Snippet      string  `json:"snippet"`
	Score        float64 `json:"score"`
}

// SpeechResponse returns decoded playback samples for a message.
type SpeechResponse struct {
	Index      int       `json:"index"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Samples    []float32 `json:"samples"`
}
