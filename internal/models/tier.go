package models

// Tier — уровень подписки сообщества. Определяет потолок квоты верификаций за цикл оплаты.
type Tier string

// Известные уровни подписки.
const (
	Tier0 Tier = "tier_0"
	Tier1 Tier = "tier_1"
	Tier2 Tier = "tier_2"
	Tier3 Tier = "tier_3"
	Tier4 Tier = "tier_4"
	Tier5 Tier = "tier_5"
	Tier6 Tier = "tier_6"
)

var tierCeilings = map[Tier]int{
	Tier0: 0,
	Tier1: 10,
	Tier2: 25,
	Tier3: 50,
	Tier4: 75,
	Tier5: 100,
	Tier6: 150,
}

// Tiers возвращает все известные уровни в порядке возрастания потолка.
func Tiers() []Tier {
	return []Tier{Tier0, Tier1, Tier2, Tier3, Tier4, Tier5, Tier6}
}

// Ceiling возвращает потолок квоты уровня. ok == false для неизвестного уровня.
func (t Tier) Ceiling() (int, bool) {
	c, ok := tierCeilings[t]
	return c, ok
}

// Valid сообщает, известен ли уровень.
func (t Tier) Valid() bool {
	_, ok := tierCeilings[t]
	return ok
}

// AllowsNewVerifications сообщает, можно ли на этом уровне запускать новые проверки.
// tier_0 допускает только повторную выдачу роли уже проверенным участникам.
func (t Tier) AllowsNewVerifications() bool {
	c, ok := tierCeilings[t]
	return ok && c > 0
}

func ceilingOrZero(t Tier) int {
	c, _ := t.Ceiling()
	return c
}

// PurchaseQuota считает остаток квоты после оплаты (checkout) уровня next,
// если до этого действовал уровень prev.
//
// Покупка добавляет потолок нового уровня к остатку. При переходе на уровень
// с меньшим потолком результат ограничивается новым потолком.
func PurchaseQuota(current int, prev, next Tier) int {
	nextCeiling := ceilingOrZero(next)
	result := max(current, 0) + nextCeiling
	if nextCeiling < ceilingOrZero(prev) {
		result = min(result, nextCeiling)
	}
	return result
}

// PlanChangeQuota считает остаток квоты при смене уровня без новой оплаты
// (обновление подписки у провайдера).
//
// Повышение добавляет разницу потолков, понижение ограничивает остаток новым потолком,
// тот же уровень оставляет остаток без изменений.
func PlanChangeQuota(current int, prev, next Tier) int {
	current = max(current, 0)
	prevCeiling, nextCeiling := ceilingOrZero(prev), ceilingOrZero(next)
	switch {
	case nextCeiling > prevCeiling:
		return current + (nextCeiling - prevCeiling)
	case nextCeiling < prevCeiling:
		return min(current, nextCeiling)
	default:
		return current
	}
}

// RenewalQuota возвращает остаток квоты в начале нового цикла оплаты.
func RenewalQuota(t Tier) int {
	return ceilingOrZero(t)
}
