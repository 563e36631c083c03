package models

import "time"

// Attempt — успешно начатая проверка: сессия у провайдера создана.
type Attempt struct {
	CommunityID string
	MemberID    string
	SessionID   string
	At          time.Time
}

// VerifiedResult — подтвержденный провайдером результат проверки.
type VerifiedResult struct {
	CommunityID  string
	MemberID     string
	EncryptedDOB string
	At           time.Time
}

// VerifiedOutcome — итог применения результата verified к хранилищу.
type VerifiedOutcome struct {
	// FirstVerification — участник не был проверен до этого события.
	FirstVerification bool
	// QuotaDecremented — квота сообщества списана этим событием.
	QuotaDecremented bool
	// Community — сообщество после списания, nil если сообщество не найдено.
	Community *Community
	Member    Member
}

// CanceledOutcome — итог применения результата canceled.
type CanceledOutcome struct {
	// WasVerified — до отмены участник был проверен; статус снят.
	WasVerified bool
}

// CommunityLookup задает поиск сообщества для события биллинга:
// по идентификатору сообщества или, если он пуст, по идентификатору подписки.
type CommunityLookup struct {
	CommunityID    string
	SubscriptionID string
}

// CommunityMutation изменяет сообщество в рамках единицы работы.
// exists == false означает, что сообщества нет и c — заготовка (или nil, если
// идентификатор сообщества неизвестен). Возвращает true, если изменения нужно сохранить.
type CommunityMutation func(c *Community, exists bool) (bool, error)
