package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/owanbe/settlement/internal/models"
)

func TestSplitCashGift(t *testing.T) {
	// ₦1000 in kobo at the canonical 5% rate.
	meta := &models.ChargeMetadata{IsAsoebi: false}
	commission, owner := split(100_000, meta)

	assert.Equal(t, int64(5_000), commission)
	assert.Equal(t, int64(95_000), owner)
	assert.Equal(t, int64(100_000), commission+owner, "split must not leak")
}

func TestSplitCashGiftOddAmount(t *testing.T) {
	// Commission rounds down; the remainder goes to the owner so the parts
	// always sum back exactly.
	meta := &models.ChargeMetadata{}
	commission, owner := split(10_001, meta)
	assert.Equal(t, int64(10_001), commission+owner)
}

func TestSplitAsoebiBreakdown(t *testing.T) {
	meta := &models.ChargeMetadata{IsAsoebi: true, MenQty: 2, WomenQty: 3}
	commission, owner := split(400_000, meta)

	assert.Equal(t, int64(5*AsoebiFeePerUnit), commission)
	assert.Equal(t, int64(400_000-5*AsoebiFeePerUnit), owner)
}

func TestSplitAsoebiNeverNegative(t *testing.T) {
	// Commission exceeds the amount paid; the owner gets zero, not a debt.
	meta := &models.ChargeMetadata{IsAsoebi: true, MenQty: 2, WomenQty: 3}
	commission, owner := split(200_000, meta)

	assert.Equal(t, int64(250_000), commission)
	assert.Equal(t, int64(0), owner)
}

func TestAsoebiQuantityFallbacks(t *testing.T) {
	// Sub-counts win over the generic quantity.
	assert.Equal(t, 4, asoebiQuantity(&models.ChargeMetadata{BrideMenQty: 1, GroomWomenQty: 3, AsoebiQuantity: 9}))

	// Generic quantity when no sub-counts were supplied.
	assert.Equal(t, 9, asoebiQuantity(&models.ChargeMetadata{AsoebiQuantity: 9}))

	// Floor at one unit.
	assert.Equal(t, 1, asoebiQuantity(&models.ChargeMetadata{}))
}

func TestReferralReward(t *testing.T) {
	amount, kind := referralReward(100_000, true)
	assert.Equal(t, int64(ReferralAsoebiReward), amount)
	assert.Equal(t, models.ReferralKindAsoebi, kind)

	amount, kind = referralReward(100_000, false)
	assert.Equal(t, int64(1_000), amount) // 1% of ₦1000
	assert.Equal(t, models.ReferralKindCash, kind)
}
