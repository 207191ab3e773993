package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

// ErrorKind classifica falhas de gateway para diagnóstico do operador
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindTimeout       ErrorKind = "timeout"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindBadRequest    ErrorKind = "bad_request"
	KindUpstream      ErrorKind = "upstream"
	KindMalformed     ErrorKind = "malformed"
	KindNotSupported  ErrorKind = "not_supported"
	KindNotConfigured ErrorKind = "not_configured"
)

// Client identifica o pagador ou beneficiário
type Client struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// Card são os dados de cartão para pagamentos CARD
type Card struct {
	Number          string `json:"number"`
	HolderName      string `json:"holder_name"`
	ExpirationMonth string `json:"expiration_month"`
	ExpirationYear  string `json:"expiration_year"`
	CVV             string `json:"cvv"`
	Installments    int    `json:"installments"`
}

// Request é o pedido normalizado enviado a qualquer adaptador
type Request struct {
	RequestNumber string
	Method        payment.Method
	// Amount é sempre a magnitude; o sentido vem do kind.
	Amount     decimal.Decimal
	DueDate    time.Time
	Client     Client
	Card       *Card
	PixKey     string
	PixKeyType string
}

// PaymentData é a forma normalizada da resposta de um PSP
type PaymentData struct {
	RequestNumber string          `json:"request_number"`
	ExternalID    string          `json:"external_id,omitempty"`
	Status        payment.Status  `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	QRCode        string          `json:"qr_code,omitempty"`
	Barcode       string          `json:"barcode,omitempty"`
	DigitableLine string          `json:"digitable_line,omitempty"`
}

// Artifacts extrai os campos write-once da resposta
func (d *PaymentData) Artifacts() payment.Artifacts {
	return payment.Artifacts{QRCode: d.QRCode, Barcode: d.Barcode, DigitableLine: d.DigitableLine}
}

// Result é o retorno de qualquer operação de adaptador. Adaptadores nunca
// devolvem error nem entram em pânico: falhas viram Success=false.
type Result struct {
	Success    bool         `json:"success"`
	Data       *PaymentData `json:"data,omitempty"`
	Error      string       `json:"error,omitempty"`
	Message    string       `json:"message,omitempty"`
	Kind       ErrorKind    `json:"kind,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
}

// OK cria um resultado de sucesso
func OK(data *PaymentData, message string) Result {
	return Result{Success: true, Data: data, Message: message}
}

// Failure cria um resultado de falha
func Failure(kind ErrorKind, statusCode int, format string, args ...any) Result {
	return Result{Success: false, Kind: kind, StatusCode: statusCode, Error: fmt.Sprintf(format, args...)}
}

// Adapter é o contrato comum dos PSPs
type Adapter interface {
	Name() string
	Supports(kind payment.Kind, method payment.Method) bool
	CreatePayment(ctx context.Context, kind payment.Kind, req Request) Result
	Cancel(ctx context.Context, requestNumber string) Result
	TestConnection(ctx context.Context) Result
}

// Registry mapeia nomes de gateway para adaptadores
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry cria um registro com os adaptadores informados
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get busca um adaptador pelo nome
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}
