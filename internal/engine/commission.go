package engine

import "github.com/owanbe/settlement/internal/models"

// Commission and reward rules. All amounts are kobo; rates are basis points
// so the arithmetic stays integral. The cash rate is the single canonical
// rate for every settlement path.
const (
	CashCommissionBPS    = 500    // 5% of cash gifts
	AsoebiFeePerUnit     = 50_000 // flat ₦500 per Asoebi unit
	ReferralAsoebiReward = 10_000 // flat ₦100 per Asoebi order
	ReferralCashBPS      = 100    // 1% of cash gifts
)

// asoebiQuantity sums the six sub-counts, falling back to the generic
// quantity, floored at 1 so every order pays for at least one unit.
func asoebiQuantity(m *models.ChargeMetadata) int {
	qty := m.MenQty + m.WomenQty + m.BrideMenQty + m.BrideWomenQty + m.GroomMenQty + m.GroomWomenQty
	if qty == 0 {
		qty = m.AsoebiQuantity
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}

// split computes (commission, ownerReceives) for a settled amount.
// ownerReceives never goes negative, and for cash gifts the two parts always
// sum back to the amount exactly.
func split(amount int64, m *models.ChargeMetadata) (int64, int64) {
	if m.IsAsoebi {
		commission := int64(asoebiQuantity(m)) * AsoebiFeePerUnit
		owner := amount - commission
		if owner < 0 {
			owner = 0
		}
		return commission, owner
	}
	commission := amount * CashCommissionBPS / 10_000
	return commission, amount - commission
}

// referralReward is the amount owed to the owner's referrer, if any.
func referralReward(amount int64, isAsoebi bool) (int64, string) {
	if isAsoebi {
		return ReferralAsoebiReward, models.ReferralKindAsoebi
	}
	return amount * ReferralCashBPS / 10_000, models.ReferralKindCash
}
