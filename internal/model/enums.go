package model

type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierPremium:
		return true
	}
	return false
}

func (t Tier) Paid() bool {
	return t == TierPro || t == TierPremium
}

// Unit is what a tier's caps are counted in.
type Unit string

const (
	UnitCredits Unit = "credits"
	UnitTokens  Unit = "tokens"
)

type BillingStatus string

// Billing records are append-only; a record is never voided once written.
const BillingStatusRecorded BillingStatus = "recorded"
