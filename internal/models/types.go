package models

import "time"

// All monetary amounts are kobo (minor units). The gateway reports kobo
// natively; conversion from Naira happens once, at the API edge.

// User owns one or more gift pages and carries a wallet of funds owed.
type User struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	WalletBalance int64     `json:"wallet_balance"`
	ReferredByID  *int64    `json:"referred_by_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Gift is an event page that collects contributions.
type Gift struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	EventLink string    `json:"event_link"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Guest attendance states.
const (
	AttendingPending = "pending"
	GuestInvited     = "invited"
)

// Guest is an invitee, optionally linked to an Asoebi purchase.
type Guest struct {
	ID              int64  `json:"id"`
	GiftID          int64  `json:"gift_id"`
	UserID          int64  `json:"user_id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Attending       string `json:"attending"`
	Status          string `json:"status"`
	Allowed         int    `json:"allowed"`
	Asoebi          bool   `json:"asoebi"`
	AsoebiPaid      bool   `json:"asoebi_paid"`
	AsoebiSelection string `json:"asoebi_selection"`
}

// AsoebiItem is a catalog entry with a running sold counter.
type AsoebiItem struct {
	ID     int64  `json:"id"`
	GiftID int64  `json:"gift_id"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
	Sold   int    `json:"sold"`
}

// ContributionCompleted is the only terminal status reached by settlement.
const ContributionCompleted = "completed"

// Contribution is one settled payment event. TransactionID and Reference are
// both stored so either identifier satisfies a later dedup lookup.
type Contribution struct {
	ID               int64     `json:"id"`
	GiftID           int64     `json:"gift_id"`
	ContributorName  string    `json:"contributor_name"`
	ContributorEmail string    `json:"contributor_email"`
	Amount           int64     `json:"amount"`
	Commission       int64     `json:"commission"`
	IsAsoebi         bool      `json:"is_asoebi"`
	AsoebiQuantity   int       `json:"asoebi_quantity"`
	MenQty           int       `json:"men_qty"`
	WomenQty         int       `json:"women_qty"`
	BrideMenQty      int       `json:"bride_men_qty"`
	BrideWomenQty    int       `json:"bride_women_qty"`
	GroomMenQty      int       `json:"groom_men_qty"`
	GroomWomenQty    int       `json:"groom_women_qty"`
	Message          string    `json:"message"`
	TransactionID    string    `json:"transaction_id"`
	Reference        string    `json:"reference"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReferralTransaction records a reward paid to a referring user.
type ReferralTransaction struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	ContributionID int64     `json:"contribution_id"`
	Amount         int64     `json:"amount"`
	Kind           string    `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
}

// Referral reward kinds.
const (
	ReferralKindAsoebi = "asoebi"
	ReferralKindCash   = "cash"
)

// Vendor payment states.
const (
	VendorNotScheduled = "Not Scheduled"
	VendorScheduled    = "Scheduled"
	VendorReleased     = "Released"
	VendorCancelled    = "Cancelled"
)

// Vendor is a scheduled-payment obligation tied to an event.
type Vendor struct {
	ID              int64      `json:"id"`
	GiftID          int64      `json:"gift_id"`
	UserID          int64      `json:"user_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	AmountAgreed    int64      `json:"amount_agreed"`
	AmountPaid      int64      `json:"amount_paid"`
	ScheduledAmount int64      `json:"scheduled_amount"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	ReleaseDate     *time.Time `json:"release_date,omitempty"`
	Status          string     `json:"status"`
	AccountNumber   string     `json:"account_number"`
	BankCode        string     `json:"bank_code"`
	AccountName     string     `json:"account_name"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Balance is always derived, never stored.
func (v *Vendor) Balance() int64 {
	return v.AmountAgreed - v.AmountPaid - v.ScheduledAmount
}

// AsoebiLine is one item-level entry in a contribution's breakdown.
type AsoebiLine struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

// ChargeMetadata rides through the gateway on initialize and comes back on
// verify. GiftID is the one required field; settlement refuses to run
// without it.
type ChargeMetadata struct {
	GiftID           int64        `json:"gift_id"`
	GuestID          *int64       `json:"guest_id,omitempty"`
	ContributorName  string       `json:"contributor_name"`
	ContributorEmail string       `json:"contributor_email"`
	Message          string       `json:"message,omitempty"`
	IsAsoebi         bool         `json:"is_asoebi"`
	AsoebiSelection  string       `json:"asoebi_selection,omitempty"`
	AsoebiQuantity   int          `json:"asoebi_quantity,omitempty"`
	MenQty           int          `json:"men_qty,omitempty"`
	WomenQty         int          `json:"women_qty,omitempty"`
	BrideMenQty      int          `json:"bride_men_qty,omitempty"`
	BrideWomenQty    int          `json:"bride_women_qty,omitempty"`
	GroomMenQty      int          `json:"groom_men_qty,omitempty"`
	GroomWomenQty    int          `json:"groom_women_qty,omitempty"`
	Items            []AsoebiLine `json:"items,omitempty"`
}

// InitializePaymentRequest is the payload from the contribution form.
// Amount arrives in Naira and is converted to kobo at the handler.
type InitializePaymentRequest struct {
	ContributorName  string       `json:"contributor_name"`
	ContributorEmail string       `json:"contributor_email"`
	Amount           float64      `json:"amount"`
	Message          string       `json:"message,omitempty"`
	IsAsoebi         bool         `json:"is_asoebi"`
	GuestID          *int64       `json:"guest_id,omitempty"`
	AsoebiSelection  string       `json:"asoebi_selection,omitempty"`
	AsoebiQuantity   int          `json:"asoebi_quantity,omitempty"`
	MenQty           int          `json:"men_qty,omitempty"`
	WomenQty         int          `json:"women_qty,omitempty"`
	BrideMenQty      int          `json:"bride_men_qty,omitempty"`
	BrideWomenQty    int          `json:"bride_women_qty,omitempty"`
	GroomMenQty      int          `json:"groom_men_qty,omitempty"`
	GroomWomenQty    int          `json:"groom_women_qty,omitempty"`
	Items            []AsoebiLine `json:"items,omitempty"`
}

// VerifyPaymentRequest is the client-redirect callback payload. Status is
// client-supplied and never trusted; the engine re-verifies server-side.
type VerifyPaymentRequest struct {
	TransactionID string `json:"transaction_id"`
	TxRef         string `json:"tx_ref"`
	Status        string `json:"status"`
}

// SchedulePaymentRequest books a tranche for delayed release to a vendor.
// The acting user is never part of the body; identity comes from the auth
// layer via the X-User-ID header.
type SchedulePaymentRequest struct {
	Amount        int64      `json:"amount"`
	VendorEmail   string     `json:"vendor_email"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	AccountNumber string     `json:"account_number"`
	BankCode      string     `json:"bank_code"`
	AccountName   string     `json:"account_name"`
}

// VendorResponse is a vendor with its derived balance attached.
type VendorResponse struct {
	Vendor
	Balance int64 `json:"balance"`
}
