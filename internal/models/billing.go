package models

import "time"

// BillingEventType — нормализованный тип события биллинга.
type BillingEventType string

const (
	BillingCheckoutCompleted   BillingEventType = "checkout_completed"
	BillingSubscriptionCreated BillingEventType = "subscription_created"
	BillingSubscriptionUpdated BillingEventType = "subscription_updated"
	BillingSubscriptionDeleted BillingEventType = "subscription_deleted"
)

// BillingEvent — событие биллинга, извлеченное из вебхука провайдера.
type BillingEvent struct {
	EventID           string
	Type              BillingEventType
	CommunityID       string
	OwnerID           string
	ContactEmail      string
	SubscriptionID    string
	CheckoutSessionID string
	PriceIDs          []string
	ProductIDs        []string
	Status            string
	PeriodStart       *time.Time
}

// SubscriptionStatusActive сообщает, считается ли статус подписки провайдера активным.
// Активна только подписка со статусом "active"; trialing, past_due и прочие нет.
func SubscriptionStatusActive(status string) bool {
	return status == "active"
}
