package xbank

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
const Name = "xbank"

const defaultBaseURL = "https://api.xbankaccess.com"

const (
	pathQRCode  = "/api/v1/pix/qrcode"
	pathPayment = "/api/v1/pix/payment"
	pathBalance = "/api/v1/account/balance"
)

// Adapter fala com o PSP via bearer token. Só PIX é suportado e não existe
// cancelamento. Os webhooks deste gateway não são assinados.
type Adapter struct {
	http        *resty.Client
	settings    settings.Source
	callbackURL string
	logger      *zap.Logger
}

// New cria o adaptador
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
	return kind.Valid() && method == payment.MethodPIX
}

type person struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email,omitempty"`
}

type qrCodeRequest struct {
	Amount      float64 `json:"amount"`
	ExternalID  string  `json:"external_id"`
	Payer       person  `json:"payer"`
	PostbackURL string  `json:"postback_url,omitempty"`
}

type pixPaymentRequest struct {
	Amount      float64 `json:"amount"`
	ExternalID  string  `json:"external_id"`
	PixKey      string  `json:"pix_key"`
	PixKeyType  string  `json:"pix_key_type"`
	Beneficiary person  `json:"beneficiary"`
	PostbackURL string  `json:"postback_url,omitempty"`
}

type response struct {
	IDTransaction string `json:"idTransaction"`
	ID            string `json:"id"`
	QRCode        string `json:"qrcode"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func (r response) externalID() string {
	if r.IDTransaction != "" {
		return r.IDTransaction
	}
	return r.ID
}

func (a *Adapter) CreatePayment(ctx context.Context, kind payment.Kind, req gateway.Request) gateway.Result {
	if !a.Supports(kind, req.Method) {
		return gateway.Failure(gateway.KindNotSupported, 0, "%s %s not supported", kind, req.Method)
	}
	r, ok := a.request()
	if !ok {
		return gateway.Failure(gateway.KindNotConfigured, 0, "token not configured")
	}

	amount := req.Amount.Abs().InexactFloat64()
	who := person{Name: req.Client.Name, Document: req.Client.Document, Email: req.Client.Email}

	path := pathQRCode
	var body any = qrCodeRequest{
		Amount:      amount,
		ExternalID:  req.RequestNumber,
		Payer:       who,
		PostbackURL: a.callbackURL,
	}
	if kind == payment.KindWithdrawal {
		path = pathPayment
		body = pixPaymentRequest{
			Amount:      amount,
			ExternalID:  req.RequestNumber,
			PixKey:      req.PixKey,
			PixKeyType:  req.PixKeyType,
			Beneficiary: who,
			PostbackURL: a.callbackURL,
		}
	}

	var out response
	if res, ok := gateway.Call(ctx, a.logger, Name, "create_payment", r.SetBody(body), http.MethodPost, a.baseURL()+path, &out); !ok {
		return res
	}
	if out.externalID() == "" {
		return gateway.Failure(gateway.KindMalformed, http.StatusOK, "response without transaction id: %s", out.Message)
	}

	status, known := payment.ParseStatus(out.Status)
	if !known {
		status = payment.StatusPending
	}

	return gateway.OK(&gateway.PaymentData{
		RequestNumber: req.RequestNumber,
		ExternalID:    out.externalID(),
		Status:        status,
		Amount:        req.Amount.Abs(),
		QRCode:        out.QRCode,
	}, "payment created")
}

func (a *Adapter) Cancel(ctx context.Context, requestNumber string) gateway.Result {
	return gateway.Failure(gateway.KindNotSupported, 0, "cancel is not supported")
}

func (a *Adapter) TestConnection(ctx context.Context) gateway.Result {
	r, ok := a.request()
	if !ok {
		return gateway.Failure(gateway.KindNotConfigured, 0, "token not configured")
	}
	if res, ok := gateway.Call(ctx, a.logger, Name, "test_connection", r, http.MethodGet, a.baseURL()+pathBalance, nil); !ok {
		return res
	}
	return gateway.OK(nil, "connection ok")
}

func (a *Adapter) request() (*resty.Request, bool) {
	token := a.settings.Get(settings.XBankToken)
	if token == "" {
		return nil, false
	}
	return a.http.R().SetAuthToken(token), true
}

func (a *Adapter) baseURL() string {
	if u := a.settings.Get(settings.XBankBaseURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	return defaultBaseURL
}

var _ gateway.Adapter = (*Adapter)(nil)
