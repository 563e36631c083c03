// Package discord выдает роли и отправляет уведомления в каналы через REST API Discord.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

var (
	// ErrNotFound — сообщество, участник, роль или канал больше не существуют.
	ErrNotFound = errors.New("discord resource not found")
	// ErrForbidden — у бота нет прав на действие.
	ErrForbidden = errors.New("discord action forbidden")
	// ErrInvalidID — идентификатор не является snowflake.
	ErrInvalidID = errors.New("invalid discord id")
)

const grantReason = "identity verification passed"

type restAPI interface {
	AddMemberRole(guildID snowflake.ID, userID snowflake.ID, roleID snowflake.ID, opts ...rest.RequestOpt) error
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
}

// Client — клиент REST API Discord от имени бота.
type Client struct {
	api restAPI
}

// New создаёт клиент с токеном бота.
func New(botToken string) *Client {
	return &Client{api: rest.New(rest.NewClient(botToken))}
}

// GrantRole выдает участнику роль в сообществе. Повторная выдача безопасна.
func (c *Client) GrantRole(ctx context.Context, communityID, memberID, roleID string) error {
	const op = "discord.GrantRole"

	ids, err := parseIDs(communityID, memberID, roleID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.api.AddMemberRole(ids[0], ids[1], ids[2], rest.WithReason(grantReason), rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

// Notify отправляет текстовое сообщение в канал.
func (c *Client) Notify(ctx context.Context, channelID, content string) error {
	const op = "discord.Notify"

	ids, err := parseIDs(channelID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := discord.NewMessageCreateBuilder().SetContent(content).Build()
	if _, err := c.api.CreateMessage(ids[0], msg, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

// Mention возвращает упоминание пользователя в формате Discord.
func Mention(memberID string) string {
	return "<@" + memberID + ">"
}

func parseIDs(raw ...string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(raw))
	for _, s := range raw {
		id, err := snowflake.Parse(strings.TrimSpace(s))
		if err != nil || id == 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func classify(err error) error {
	var status int
	var restErr *rest.Error
	if errors.As(err, &restErr) && restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	default:
		return err
	}
}
