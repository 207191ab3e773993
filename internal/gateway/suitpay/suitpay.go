package suitpay

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/gateway"
	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/settings"
)

// Name é o identificador do gateway
const Name = "suitpay"

const defaultBaseURL = "https://ws.suitpay.app"

const (
	pathQRCode   = "/api/v1/gateway/request-qrcode"
	pathCard     = "/api/v1/gateway/card"
	pathBoleto   = "/api/v1/gateway/request-boleto"
	pathPixOut   = "/api/v1/gateway/pix-payment"
	pathCancel   = "/api/v1/gateway/cancel-transaction"
	pathBalance  = "/api/v1/gateway/balance"
	responseOK   = "OK"
	cardAccepted = "PAYMENT_ACCEPT"
	cardDenied   = "PAYMENT_DENIED"
)

// Adapter fala com o PSP via headers ci/cs. Webhooks deste gateway são
// assinados com SHA-256 sobre o client secret.
type Adapter struct {
	http        *resty.Client
	settings    settings.Source
	callbackURL string
	logger      *zap.Logger
}

// New cria o adaptador. callbackURL é o endereço público do webhook.
func New(source settings.Source, timeout time.Duration, callbackURL string, logger *zap.Logger) *Adapter {
	return &Adapter{
		http:        gateway.NewHTTPClient(timeout),
		settings:    source,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Supports(kind payment.Kind, method payment.Method) bool {
	if kind == payment.KindWithdrawal {
		return method == payment.MethodPIX
	}
	return method.Valid()
}

type clientPayload struct {
	Name        string `json:"name"`
	Document    string `json:"document"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Email       string `json:"email,omitempty"`
}

type cardPayload struct {
	Number          string `json:"number"`
	HolderName      string `json:"holderName"`
	ExpirationMonth string `json:"expirationMonth"`
	ExpirationYear  string `json:"expirationYear"`
	CVV             string `json:"cvv"`
	Installment     int    `json:"installment"`
}

type chargeRequest struct {
	RequestNumber    string        `json:"requestNumber"`
	DueDate          string        `json:"dueDate,omitempty"`
	Amount           float64       `json:"amount"`
	ShippingAmount   float64       `json:"shippingAmount"`
	UsernameCheckout string        `json:"usernameCheckout,omitempty"`
	CallbackURL      string        `json:"callbackUrl,omitempty"`
	Client           clientPayload `json:"client"`
	Card             *cardPayload  `json:"card,omitempty"`
}

type pixOutRequest struct {
	Value       float64 `json:"value"`
	Key         string  `json:"key"`
	TypeKey     string  `json:"typeKey"`
	ExternalID  string  `json:"externalId"`
	CallbackURL string  `json:"callbackUrl,omitempty"`
}

type response struct {
	Response          string `json:"response"`
	Message           string `json:"message"`
	IDTransaction     string `json:"idTransaction"`
	PaymentCode       string `json:"paymentCode"`
	DigitableLine     string `json:"digitableLine"`
	Barcode           string `json:"barcode"`
	StatusTransaction string `json:"statusTransaction"`
}

func (a *Adapter) CreatePayment(ctx context.Context, kind payment.Kind, req gateway.Request) gateway.Result {
	if !a.Supports(kind, req.Method) {
		return gateway.Failure(gateway.KindNotSupported, 0, "%s %s not supported", kind, req.Method)
	}
	r, ok := a.request()
	if !ok {
		return gateway.Failure(gateway.KindNotConfigured, 0, "credentials not configured")
	}

	amount := req.Amount.Abs().InexactFloat64()

	var path string
	var body any
	switch {
	case kind == payment.KindWithdrawal:
		path = pathPixOut
		body = pixOutRequest{
			Value:       amount,
			Key:         req.PixKey,
			TypeKey:     req.PixKeyType,
			ExternalID:  req.RequestNumber,
			CallbackURL: a.callbackURL,
		}
	default:
		charge := chargeRequest{
			RequestNumber:    req.RequestNumber,
			Amount:           amount,
			UsernameCheckout: "checkout",
			CallbackURL:      a.callbackURL,
			Client: clientPayload{
				Name:        req.Client.Name,
				Document:    req.Client.Document,
				PhoneNumber: req.Client.Phone,
				Email:       req.Client.Email,
			},
		}
		if !req.DueDate.IsZero() {
			charge.DueDate = req.DueDate.Format("2006-01-02")
		}
		switch req.Method {
		case payment.MethodPIX:
			path = pathQRCode
		case payment.MethodBoleto:
			path = pathBoleto
		case payment.MethodCard:
			path = pathCard
			if req.Card == nil {
				return gateway.Failure(gateway.KindBadRequest, 0, "card data is required")
			}
			charge.Card = &cardPayload{
				Number:          req.Card.Number,
				HolderName:      req.Card.HolderName,
				ExpirationMonth: req.Card.ExpirationMonth,
				ExpirationYear:  req.Card.ExpirationYear,
				CVV:             req.Card.CVV,
				Installment:     max(req.Card.Installments, 1),
			}
		}
		body = charge
	}

	var out response
	if res, ok := gateway.Call(ctx, a.logger, Name, "create_payment", r.SetBody(body), http.MethodPost, a.baseURL()+path, &out); !ok {
		return res
	}
	if !strings.EqualFold(out.Response, responseOK) {
		return gateway.Failure(gateway.KindBadRequest, http.StatusOK, "payment refused: %s", firstNonEmpty(out.Message, out.Response))
	}

	return gateway.OK(&gateway.PaymentData{
		RequestNumber: req.RequestNumber,
		ExternalID:    out.IDTransaction,
		Status:        mapStatus(req.Method, out.StatusTransaction),
		Amount:        req.Amount.Abs(),
		QRCode:        out.PaymentCode,
		Barcode:       out.Barcode,
		DigitableLine: out.DigitableLine,
	}, "payment created")
}

func (a *Adapter) Cancel(ctx context.Context, requestNumber string) gateway.Result {
	r, ok := a.request()
	if !ok {
		return gateway.Failure(gateway.KindNotConfigured, 0, "credentials not configured")
	}

	var out response
	body := map[string]string{"requestNumber": requestNumber}
	if res, ok := gateway.Call(ctx, a.logger, Name, "cancel", r.SetBody(body), http.MethodPost, a.baseURL()+pathCancel, &out); !ok {
		return res
	}
	if !strings.EqualFold(out.Response, responseOK) {
		return gateway.Failure(gateway.KindBadRequest, http.StatusOK, "cancel refused: %s", firstNonEmpty(out.Message, out.Response))
	}
	return gateway.OK(&gateway.PaymentData{RequestNumber: requestNumber, Status: payment.StatusCanceled}, "payment canceled")
}

func (a *Adapter) TestConnection(ctx context.Context) gateway.Result {
	r, ok := a.request()
	if !ok {
		return gateway.Failure(gateway.KindNotConfigured, 0, "credentials not configured")
	}
	if res, ok := gateway.Call(ctx, a.logger, Name, "test_connection", r, http.MethodGet, a.baseURL()+pathBalance, nil); !ok {
		return res
	}
	return gateway.OK(nil, "connection ok")
}

// request monta a requisição com as credenciais do snapshot atual
func (a *Adapter) request() (*resty.Request, bool) {
	ci := a.settings.Get(settings.SuitPayClientID)
	cs := a.settings.Get(settings.SuitPayClientSecret)
	if ci == "" || cs == "" {
		return nil, false
	}
	return a.http.R().SetHeader("ci", ci).SetHeader("cs", cs), true
}

func (a *Adapter) baseURL() string {
	if u := a.settings.Get(settings.SuitPayBaseURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	return defaultBaseURL
}

// mapStatus traduz o status síncrono. PIX e boleto sempre nascem pendentes;
// cartão pode ser aprovado ou negado na hora.
func mapStatus(method payment.Method, raw string) payment.Status {
	if method != payment.MethodCard {
		return payment.StatusPending
	}
	switch strings.ToUpper(raw) {
	case cardAccepted:
		return payment.StatusPaidOut
	case cardDenied:
		return payment.StatusFailed
	}
	return payment.StatusPending
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "unknown"
}

var _ gateway.Adapter = (*Adapter)(nil)
