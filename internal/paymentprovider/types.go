package paymentprovider

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/magabrotheeeer/verification-gate/internal/models"
)

// Ключи метаданных, которые сервис передает провайдеру и получает обратно в событиях.
const (
	MetadataCommunityID = "guild_id"
	MetadataMemberID    = "user_id"
	MetadataRoleID      = "role_id"
	MetadataChannelID   = "channel_id"
)

// Типы событий провайдера.
const (
	eventIdentityVerified    = "identity.verification_session.verified"
	eventIdentityCanceled    = "identity.verification_session.canceled"
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

// IdentityEvent — нормализованное событие результата проверки личности.
type IdentityEvent struct {
	EventID   string
	Outcome   models.VerificationOutcome
	SessionID string
	Metadata  models.SessionMetadata
	// DOB заполнен, только если провайдер прислал verified_outputs в событии.
	DOB *models.DateOfBirth
}

// expandableID принимает как строковый идентификатор, так и развернутый объект с полем id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type verificationSessionObject struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	Metadata        map[string]string `json:"metadata"`
	VerifiedOutputs *struct {
		DOB *struct {
			Day   int `json:"day"`
			Month int `json:"month"`
			Year  int `json:"year"`
		} `json:"dob"`
	} `json:"verified_outputs"`
}

type priceObject struct {
	ID      string       `json:"id"`
	Product expandableID `json:"product"`
}

type lineItemList struct {
	Data []struct {
		Price              *priceObject `json:"price"`
		CurrentPeriodStart int64        `json:"current_period_start"`
	} `json:"data"`
}

type checkoutSessionObject struct {
	ID              string       `json:"id"`
	Subscription    expandableID `json:"subscription"`
	CustomerEmail   string       `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata  map[string]string `json:"metadata"`
	LineItems *lineItemList     `json:"line_items"`
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	Items              lineItemList      `json:"items"`
}

func sessionMetadata(md map[string]string) models.SessionMetadata {
	return models.SessionMetadata{
		CommunityID: strings.TrimSpace(md[MetadataCommunityID]),
		MemberID:    strings.TrimSpace(md[MetadataMemberID]),
		RoleID:      strings.TrimSpace(md[MetadataRoleID]),
		ChannelID:   strings.TrimSpace(md[MetadataChannelID]),
	}
}

func (l *lineItemList) prices() (priceIDs, productIDs []string) {
	if l == nil {
		return nil, nil
	}
	for _, item := range l.Data {
		if item.Price == nil {
			continue
		}
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			priceIDs = append(priceIDs, id)
		}
		if id := strings.TrimSpace(string(item.Price.Product)); id != "" {
			productIDs = append(productIDs, id)
		}
	}
	return priceIDs, productIDs
}
