package reconciliation

import (
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

const (
	ReasonApplied           = "applied"
	ReasonDuplicate         = "duplicate"
	ReasonInvalidTransition = "invalid_transition"
)

// Decision é o resultado da máquina de estados para um par (atual, alvo)
type Decision struct {
	Allowed      bool
	Delta        decimal.Decimal
	LedgerReason payment.LedgerReason
	Reason       string
}

// Decide aplica as regras de transição:
//
//	PENDING  -> PAID_OUT    delta +amount (o valor já carrega o sinal)
//	PAID_OUT -> CHARGEBACK  delta -amount
//	PENDING  -> FAILED | CANCELED  sem efeito no saldo
//
// Qualquer outra transição, inclusive para o mesmo status, é recusada.
func Decide(current, target payment.Status, amount decimal.Decimal) Decision {
	if current == target {
		return Decision{Reason: ReasonDuplicate}
	}
	if current.Terminal() {
		return Decision{Reason: ReasonInvalidTransition}
	}

	switch {
	case current == payment.StatusPending && target == payment.StatusPaidOut:
		reason := payment.ReasonDeposit
		if amount.IsNegative() {
			reason = payment.ReasonWithdrawal
		}
		return Decision{Allowed: true, Delta: amount, LedgerReason: reason, Reason: ReasonApplied}

	case current == payment.StatusPaidOut && target == payment.StatusChargeback:
		return Decision{Allowed: true, Delta: amount.Neg(), LedgerReason: payment.ReasonChargeback, Reason: ReasonApplied}

	case current == payment.StatusPending && (target == payment.StatusFailed || target == payment.StatusCanceled):
		return Decision{Allowed: true, Delta: decimal.Zero, Reason: ReasonApplied}
	}

	return Decision{Reason: ReasonInvalidTransition}
}
