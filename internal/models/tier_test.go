package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierCeiling(t *testing.T) {
	tests := []struct {
		tier    Tier
		want    int
		wantOK  bool
		allowed bool
	}{
		{Tier0, 0, true, false},
		{Tier1, 10, true, true},
		{Tier2, 25, true, true},
		{Tier3, 50, true, true},
		{Tier4, 75, true, true},
		{Tier5, 100, true, true},
		{Tier6, 150, true, true},
		{Tier("tier_9"), 0, false, false},
		{Tier(""), 0, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			got, ok := tt.tier.Ceiling()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantOK, tt.tier.Valid())
			assert.Equal(t, tt.allowed, tt.tier.AllowsNewVerifications())
		})
	}
}

func TestPurchaseQuota(t *testing.T) {
	tests := []struct {
		name    string
		current int
		prev    Tier
		next    Tier
		want    int
	}{
		{name: "первая покупка", current: 0, prev: Tier0, next: Tier2, want: 25},
		{name: "повышение складывает остаток", current: 7, prev: Tier1, next: Tier3, want: 57},
		{name: "тот же уровень складывает остаток", current: 4, prev: Tier2, next: Tier2, want: 29},
		{name: "понижение ограничено потолком", current: 60, prev: Tier5, next: Tier2, want: 25},
		{name: "понижение с малым остатком", current: 3, prev: Tier5, next: Tier2, want: 25},
		{name: "неизвестный прежний уровень", current: 5, prev: Tier("legacy"), next: Tier1, want: 15},
		{name: "отрицательный остаток не уменьшает покупку", current: -3, prev: Tier1, next: Tier1, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PurchaseQuota(tt.current, tt.prev, tt.next))
		})
	}
}

func TestPlanChangeQuota(t *testing.T) {
	tests := []struct {
		name    string
		current int
		prev    Tier
		next    Tier
		want    int
	}{
		{name: "повышение добавляет разницу", current: 5, prev: Tier1, next: Tier2, want: 20},
		{name: "понижение ограничивает потолком", current: 60, prev: Tier5, next: Tier2, want: 25},
		{name: "понижение без превышения потолка", current: 10, prev: Tier5, next: Tier2, want: 10},
		{name: "тот же уровень", current: 9, prev: Tier3, next: Tier3, want: 9},
		{name: "понижение до tier_0", current: 9, prev: Tier3, next: Tier0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlanChangeQuota(tt.current, tt.prev, tt.next))
		})
	}
}

func TestRenewalQuota(t *testing.T) {
	assert.Equal(t, 50, RenewalQuota(Tier3))
	assert.Equal(t, 0, RenewalQuota(Tier("bogus")))
}
