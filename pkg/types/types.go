// Package types defines the shared types used across voiceform packages.
//
// These types are the common vocabulary of providers, the conversation state
// machine, and the persistence layer. Each package defines its own domain
// types; cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Role identifies the author of an utterance or chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one utterance of a conversation. Entries are appended in
// conversation order and never modified afterwards.
type TranscriptEntry struct {
	// Role is RoleUser or RoleAssistant.
	Role Role `json:"role"`

	// Text is the utterance text.
	Text string `json:"text"`

	// Timestamp is when the utterance was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Message is a single message in a chat completion request.
type Message struct {
	Role    Role
	Content string
}
