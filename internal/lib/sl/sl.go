// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — единообразные структурированные поля лога для ошибок
// и идентификаторов сообществ, участников и событий.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Community возвращает атрибут идентификатора сообщества.
func Community(id string) slog.Attr {
	return slog.String("community_id", id)
}

// Member возвращает атрибут идентификатора участника.
func Member(id string) slog.Attr {
	return slog.String("member_id", id)
}

// Event возвращает атрибуты идентификатора и типа события провайдера.
func Event(id, eventType string) slog.Attr {
	return slog.Group("event", slog.String("id", id), slog.String("type", eventType))
}
