package settlement

// Role identifies which side of a deal the initiator is on.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// DeductionKind says how much of the initiator's balance is withdrawn when
// a deal is created.
type DeductionKind int

const (
	// DeductNone: seller-initiated deals, or a buyer with nothing to
	// forward yet. The deposit monitor picks up later funding.
	DeductNone DeductionKind = iota

	// DeductPartial: the buyer has some funds but less than the required
	// total; the entire available balance is forwarded to escrow via
	// send-max semantics and the shortfall stays owed.
	DeductPartial

	// DeductFull: the buyer can cover amount plus fee; exactly the total
	// is sent via send-exact semantics.
	DeductFull
)

// Deduction is the initiation-time funding decision for a deal.
type Deduction struct {
	Kind      DeductionKind
	Amount    int64 // satoshis to move now (total for full, balance for partial)
	Shortfall int64 // satoshis still owed after a partial deduction
}

// InitiationDeduction decides how much to withdraw from the initiator's
// wallet when a deal is created. total is amount plus the escrow fee.
func InitiationDeduction(role Role, balance, total int64) Deduction {
	if role == RoleSeller || balance <= 0 {
		return Deduction{Kind: DeductNone}
	}
	if balance < total {
		// Forwarding less than the fee floor is pointless; wait for the
		// deposit monitor instead.
		if balance <= MaxFee {
			return Deduction{Kind: DeductNone, Shortfall: total}
		}
		return Deduction{Kind: DeductPartial, Amount: balance, Shortfall: total - balance}
	}
	return Deduction{Kind: DeductFull, Amount: total}
}
