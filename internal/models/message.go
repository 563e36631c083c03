package models

import (
	"errors"
	"time"
)

// VerificationOutcome — итог проверки личности у провайдера.
type VerificationOutcome string

const (
	OutcomeVerified VerificationOutcome = "verified"
	OutcomeCanceled VerificationOutcome = "canceled"
)

// ErrInvalidMessage — сообщение очереди не проходит структурную проверку.
var ErrInvalidMessage = errors.New("invalid verification message")

// VerificationMessage — сообщение очереди результатов проверки.
// EncryptedDOB содержит только шифротекст, открытая дата рождения в очередь не попадает.
type VerificationMessage struct {
	MessageID    string              `json:"message_id"`
	Type         VerificationOutcome `json:"type"`
	CommunityID  string              `json:"community_id"`
	MemberID     string              `json:"member_id"`
	RoleID       string              `json:"role_id,omitempty"`
	ChannelID    string              `json:"channel_id,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	EncryptedDOB string              `json:"encrypted_dob,omitempty"`
	OccurredAt   time.Time           `json:"occurred_at"`
}

// Validate проверяет обязательные поля сообщения.
func (m VerificationMessage) Validate() error {
	if m.Type != OutcomeVerified && m.Type != OutcomeCanceled {
		return ErrInvalidMessage
	}
	if m.CommunityID == "" || m.MemberID == "" {
		return ErrInvalidMessage
	}
	return nil
}

// VerificationSession — созданная у провайдера сессия проверки.
type VerificationSession struct {
	ID  string
	URL string
}

// SessionMetadata — контекст, передаваемый провайдеру и возвращаемый в событии результата.
type SessionMetadata struct {
	CommunityID string
	MemberID    string
	RoleID      string
	ChannelID   string
}
