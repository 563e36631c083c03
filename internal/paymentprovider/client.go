// Package paymentprovider оборачивает Stripe: сессии проверки личности,
// позиции оформленных подписок и разбор подписанных вебхуков.
package paymentprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/identity/verificationsession"

	"github.com/magabrotheeeer/verification-gate/internal/config"
	"github.com/magabrotheeeer/verification-gate/internal/models"
)

// ErrNoDateOfBirth — провайдер не вернул дату рождения для сессии.
var ErrNoDateOfBirth = errors.New("verification session has no date of birth")

const defaultProviderTimeout = 10 * time.Second

// Client выполняет исходящие вызовы к провайдеру. Каждый вызов ограничен таймаутом.
type Client struct {
	timeout   time.Duration
	returnURL string

	newSession    func(params *stripe.IdentityVerificationSessionParams) (*stripe.IdentityVerificationSession, error)
	getSession    func(id string, params *stripe.IdentityVerificationSessionParams) (*stripe.IdentityVerificationSession, error)
	listLineItems func(params *stripe.CheckoutSessionListLineItemsParams) ([]*stripe.LineItem, error)
}

// NewClient создаёт клиент провайдера с ключом из конфигурации.
func NewClient(cfg config.Stripe) *Client {
	backend := stripe.GetBackend(stripe.APIBackend)
	sessions := verificationsession.Client{B: backend, Key: cfg.SecretKey}
	checkout := checkoutsession.Client{B: backend, Key: cfg.SecretKey}

	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &Client{
		timeout:    timeout,
		returnURL:  cfg.ReturnURL,
		newSession: sessions.New,
		getSession: sessions.Get,
		listLineItems: func(params *stripe.CheckoutSessionListLineItemsParams) ([]*stripe.LineItem, error) {
			iter := checkout.ListLineItems(params)
			var items []*stripe.LineItem
			for iter.Next() {
				items = append(items, iter.LineItem())
			}
			return items, iter.Err()
		},
	}
}

// CreateVerificationSession создаёт сессию проверки документа с живой съемкой и селфи.
// Метаданные сессии вернутся в событии результата.
func (c *Client) CreateVerificationSession(ctx context.Context, meta models.SessionMetadata) (*models.VerificationSession, error) {
	const op = "paymentprovider.CreateVerificationSession"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.IdentityVerificationSessionParams{
		Type: stripe.String(string(stripe.IdentityVerificationSessionTypeDocument)),
		Options: &stripe.IdentityVerificationSessionOptionsParams{
			Document: &stripe.IdentityVerificationSessionOptionsDocumentParams{
				RequireIDNumber:       stripe.Bool(false),
				RequireLiveCapture:    stripe.Bool(true),
				RequireMatchingSelfie: stripe.Bool(true),
			},
		},
	}
	if c.returnURL != "" {
		params.ReturnURL = stripe.String(c.returnURL)
	}
	params.Context = ctx
	params.AddMetadata(MetadataCommunityID, meta.CommunityID)
	params.AddMetadata(MetadataMemberID, meta.MemberID)
	params.AddMetadata(MetadataRoleID, meta.RoleID)
	params.AddMetadata(MetadataChannelID, meta.ChannelID)

	vs, err := c.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if vs == nil || strings.TrimSpace(vs.URL) == "" {
		return nil, fmt.Errorf("%s: empty session url", op)
	}
	return &models.VerificationSession{ID: vs.ID, URL: vs.URL}, nil
}

// FetchDateOfBirth запрашивает сессию с развернутым verified_outputs.dob.
func (c *Client) FetchDateOfBirth(ctx context.Context, sessionID string) (models.DateOfBirth, error) {
	const op = "paymentprovider.FetchDateOfBirth"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.IdentityVerificationSessionParams{}
	params.Context = ctx
	params.AddExpand("verified_outputs.dob")

	vs, err := c.getSession(sessionID, params)
	if err != nil {
		return models.DateOfBirth{}, fmt.Errorf("%s: %w", op, err)
	}
	if vs == nil || vs.VerifiedOutputs == nil || vs.VerifiedOutputs.DOB == nil {
		return models.DateOfBirth{}, fmt.Errorf("%s: %w", op, ErrNoDateOfBirth)
	}
	dob := models.DateOfBirth{
		Year:  int(vs.VerifiedOutputs.DOB.Year),
		Month: time.Month(vs.VerifiedOutputs.DOB.Month),
		Day:   int(vs.VerifiedOutputs.DOB.Day),
	}
	if dob.IsZero() {
		return models.DateOfBirth{}, fmt.Errorf("%s: %w", op, ErrNoDateOfBirth)
	}
	return dob, nil
}

// CheckoutLineItems возвращает идентификаторы цен и продуктов позиций оформленной сессии.
func (c *Client) CheckoutLineItems(ctx context.Context, checkoutSessionID string) (priceIDs, productIDs []string, err error) {
	const op = "paymentprovider.CheckoutLineItems"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(checkoutSessionID),
	}
	params.Context = ctx

	items, err := c.listLineItems(params)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, item := range items {
		if item == nil || item.Price == nil {
			continue
		}
		if item.Price.ID != "" {
			priceIDs = append(priceIDs, item.Price.ID)
		}
		if item.Price.Product != nil && item.Price.Product.ID != "" {
			productIDs = append(productIDs, item.Price.Product.ID)
		}
	}
	return priceIDs, productIDs, nil
}
