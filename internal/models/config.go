package models

import "time"

// Theme is the UI color scheme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// AuthType identifies how the agent API is authenticated.
type AuthType string

const (
	AuthAPIKey     AuthType = "api-key"
	AuthOAuthToken AuthType = "oauth-token"
)

// Config holds user preferences persisted to config.json.
type Config struct {
	AuthType AuthType `json:"authType,omitempty"`
	BaseURL  string   `json:"baseUrl,omitempty"`
	Model    string   `json:"model,omitempty"`
	Theme    Theme    `json:"theme"`
}

// Credentials is the plaintext form of the encrypted credential blob.
// At most one credential is stored at a time; saving overwrites.
type Credentials struct {
	Type      AuthType  `json:"type"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}
