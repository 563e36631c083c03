// Package models содержит доменные структуры сервиса проверки возраста:
// сообщества, участников, журнал использования, уровни подписки и
// сообщения очереди результатов проверки.
package models

import "time"

// DefaultMinAge — минимальный возраст по умолчанию для новых сообществ.
const DefaultMinAge = 18

// Community описывает сообщество (сервер) и его политику доступа.
type Community struct {
	ID                    string     `json:"community_id"`
	OwnerID               string     `json:"owner_id"`
	RoleID                string     `json:"role_id,omitempty"` // пустая строка — роль не настроена
	MinAge                int        `json:"min_age"`
	Tier                  Tier       `json:"tier"`
	SubscriptionActive    bool       `json:"subscription_active"`
	QuotaRemaining        int        `json:"quota_remaining"`
	CycleStartedAt        *time.Time `json:"cycle_started_at,omitempty"`
	LastRenewalAt         *time.Time `json:"last_renewal_at,omitempty"`
	BillingSubscriptionID string     `json:"billing_subscription_id,omitempty"`
	ContactEmail          string     `json:"contact_email,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// NewCommunity возвращает сообщество с настройками по умолчанию.
func NewCommunity(id string) *Community {
	return &Community{
		ID:     id,
		MinAge: DefaultMinAge,
		Tier:   Tier0,
	}
}

// HasRole сообщает, настроена ли выдаваемая роль.
func (c *Community) HasRole() bool {
	return c.RoleID != ""
}

// CommunityStatus — ответ на запрос состояния сообщества.
type CommunityStatus struct {
	CommunityID    string     `json:"community_id"`
	Tier           Tier       `json:"tier"`
	Active         bool       `json:"active"`
	QuotaRemaining int        `json:"quota_remaining"`
	QuotaCeiling   int        `json:"quota_ceiling"`
	RoleID         string     `json:"role_id,omitempty"`
	MinAge         int        `json:"min_age"`
	LastRenewalAt  *time.Time `json:"last_renewal_at,omitempty"`
}

// Status собирает CommunityStatus из записи сообщества.
func (c *Community) Status() CommunityStatus {
	ceiling, _ := c.Tier.Ceiling()
	return CommunityStatus{
		CommunityID:    c.ID,
		Tier:           c.Tier,
		Active:         c.SubscriptionActive,
		QuotaRemaining: c.QuotaRemaining,
		QuotaCeiling:   ceiling,
		RoleID:         c.RoleID,
		MinAge:         c.MinAge,
		LastRenewalAt:  c.LastRenewalAt,
	}
}

// PolicyUpdate — изменение политики сообщества, инициированное владельцем.
type PolicyUpdate struct {
	CommunityID string
	OwnerID     string
	RoleID      string
	MinAge      int
}
