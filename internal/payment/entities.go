package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status representa os possíveis status de uma transação
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPaidOut    Status = "PAID_OUT"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
	StatusChargeback Status = "CHARGEBACK"
)

// ParseStatus normaliza o status recebido de um gateway ou webhook.
func ParseStatus(raw string) (Status, bool) {
	switch Status(normalizeToken(raw)) {
	case StatusPending, "WAITING_FOR_APPROVAL", "WAITING":
		return StatusPending, true
	case StatusPaidOut, "PAID", "PAYMENT_ACCEPT", "APPROVED", "COMPLETED":
		return StatusPaidOut, true
	case StatusFailed, "PAYMENT_DENIED", "DENIED", "REFUSED", "ERROR":
		return StatusFailed, true
	case StatusCanceled, "CANCELLED":
		return StatusCanceled, true
	case StatusChargeback, "REFUNDED":
		return StatusChargeback, true
	}
	return "", false
}

// Terminal indica se nenhuma transição sai deste status.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusCanceled || s == StatusChargeback
}

// Method representa o meio de pagamento
type Method string

const (
	MethodPIX    Method = "PIX"
	MethodCard   Method = "CARD"
	MethodBoleto Method = "BOLETO"
)

func (m Method) Valid() bool {
	return m == MethodPIX || m == MethodCard || m == MethodBoleto
}

// Kind distingue entrada (depósito) de saída (saque)
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
)

func (k Kind) Valid() bool {
	return k == KindDeposit || k == KindWithdrawal
}

// Transaction representa uma tentativa de pagamento em um PSP
type Transaction struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	RequestNumber string          `json:"request_number"`
	ExternalID    string          `json:"external_id,omitempty"`
	Gateway       string          `json:"gateway"`
	Kind          Kind            `json:"kind"`
	Method        Method          `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	QRCode        string          `json:"qr_code,omitempty"`
	Barcode       string          `json:"barcode,omitempty"`
	DigitableLine string          `json:"digitable_line,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Artifacts são os campos opacos devolvidos pelo gateway; gravados uma única vez.
type Artifacts struct {
	QRCode        string `json:"qr_code,omitempty"`
	Barcode       string `json:"barcode,omitempty"`
	DigitableLine string `json:"digitable_line,omitempty"`
}

func (a Artifacts) Empty() bool {
	return a.QRCode == "" && a.Barcode == "" && a.DigitableLine == ""
}

// Draft é a transação ainda não persistida
type Draft struct {
	UserID        int64
	RequestNumber string
	Gateway       string
	Kind          Kind
	Method        Method
	Amount        decimal.Decimal
	Metadata      map[string]any
}

// NewDraft cria um rascunho com o sinal do valor definido pelo tipo:
// depósitos são positivos e saques negativos.
func NewDraft(userID int64, requestNumber, gateway string, kind Kind, method Method, amount decimal.Decimal) Draft {
	signed := amount.Abs()
	if kind == KindWithdrawal {
		signed = signed.Neg()
	}
	return Draft{
		UserID:        userID,
		RequestNumber: requestNumber,
		Gateway:       gateway,
		Kind:          kind,
		Method:        method,
		Amount:        signed,
		Metadata:      map[string]any{},
	}
}

// StatusUpdate descreve uma escrita de status. ExternalID e Artifacts só são
// aplicados se ainda estiverem vazios; Metadata é mesclado, nunca substituído.
type StatusUpdate struct {
	Status     Status
	ExternalID string
	Artifacts  Artifacts
	Metadata   map[string]any
}

// User é o subconjunto da conta relevante para o ledger
type User struct {
	ID                 int64           `json:"id"`
	Username           string          `json:"username"`
	Balance            decimal.Decimal `json:"balance"`
	TotalDepositAmount decimal.Decimal `json:"total_deposit_amount"`
	TotalBetAmount     decimal.Decimal `json:"total_bet_amount"`
}

// LedgerReason identifica a origem de um movimento de saldo
type LedgerReason string

const (
	ReasonDeposit    LedgerReason = "deposit"
	ReasonWithdrawal LedgerReason = "withdrawal"
	ReasonChargeback LedgerReason = "chargeback"
	ReasonBet        LedgerReason = "bet"
	ReasonWin        LedgerReason = "win"
)

// LedgerEntry é um delta de saldo com sua referência de auditoria
type LedgerEntry struct {
	UserID    int64
	Delta     decimal.Decimal
	Reason    LedgerReason
	Reference string
}

// GameplayEntry é um movimento de saldo vindo do agregador de jogos,
// aplicado no máximo uma vez por (EventKey, Branch).
type GameplayEntry struct {
	// EventKey vazio significa evento sem identidade: aplica sempre.
	EventKey string
	Branch   string
	Entry    LedgerEntry
	// NoOverdraft recusa débitos que deixariam o saldo negativo.
	NoOverdraft bool
}

// Principal é o usuário autenticado que executa a operação
type Principal struct {
	UserID   int64
	Username string
	Admin    bool
}

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}
