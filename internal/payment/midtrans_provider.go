package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

type midtransSnapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type midtransCoreAPI interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// MidtransProvider implements Provider on Midtrans Snap. Every Snap
// payment is redirect based: Confirm returns the hosted payment page and
// the status is read back through the Core API.
type MidtransProvider struct {
	snap midtransSnapAPI
	core midtransCoreAPI
}

// NewMidtransProvider creates a Midtrans provider for the given server key
func NewMidtransProvider(serverKey string, production bool) (*MidtransProvider, error) {
	serverKey = strings.TrimSpace(serverKey)
	if serverKey == "" {
		return nil, errors.New("midtrans: server key is required")
	}

	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var snapClient snap.Client
	snapClient.New(serverKey, env)
	var coreClient coreapi.Client
	coreClient.New(serverKey, env)

	return &MidtransProvider{snap: &snapClient, core: &coreClient}, nil
}

// Name implements Provider
func (p *MidtransProvider) Name() string {
	return "midtrans"
}

// CreateIntent implements Provider. Midtrans has no intent object before
// the Snap transaction exists, so the order code doubles as id and secret.
func (p *MidtransProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, errors.New("midtrans: amount must be positive")
	}
	code := "SF-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:20]
	return Intent{
		ID:           code,
		ClientSecret: code,
		Amount:       req.Amount,
		Currency:     strings.ToLower(req.Currency),
		Status:       StatusRequiresConfirmation,
	}, nil
}

// Confirm implements Provider
func (p *MidtransProvider) Confirm(_ context.Context, req ConfirmRequest) (ConfirmResult, error) {
	customer := &midtrans.CustomerDetails{
		FName: req.Billing.Name,
		Email: req.Billing.Email,
		Phone: req.Billing.Phone,
	}
	if req.Billing.Line1 != "" {
		addr := &midtrans.CustomerAddress{
			FName:    req.Billing.Name,
			Phone:    req.Billing.Phone,
			Address:  strings.TrimSpace(req.Billing.Line1 + " " + req.Billing.Line2),
			City:     req.Billing.City,
			Postcode: req.Billing.PostalCode,
		}
		customer.BillAddr = addr
		customer.ShipAddr = addr
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.IntentID,
			GrossAmt: req.Amount,
		},
		CustomerDetail:  customer,
		EnabledPayments: snap.AllSnapPaymentType,
	}
	if req.ReturnURL != "" {
		snapReq.Callbacks = &snap.Callbacks{
			Finish: returnURLWithSecret(req.ReturnURL, req.ClientSecret),
		}
	}

	resp, merr := p.snap.CreateTransaction(snapReq)
	if merr != nil {
		return ConfirmResult{}, fmt.Errorf("midtrans: create snap transaction: %s", merr.Message)
	}
	if resp == nil || resp.RedirectURL == "" {
		return ConfirmResult{}, errors.New("midtrans: snap transaction returned no redirect url")
	}

	return ConfirmResult{
		Intent: Intent{
			ID:           req.IntentID,
			ClientSecret: req.ClientSecret,
			Amount:       req.Amount,
			Currency:     req.Currency,
			Status:       StatusRequiresAction,
		},
		RedirectURL: resp.RedirectURL,
	}, nil
}

// RetrieveIntent implements Provider
func (p *MidtransProvider) RetrieveIntent(_ context.Context, clientSecret string) (Intent, error) {
	if clientSecret == "" {
		return Intent{}, errors.New("midtrans: order code is required")
	}

	status, merr := p.core.CheckTransaction(clientSecret)
	if merr != nil {
		return Intent{}, fmt.Errorf("midtrans: check transaction: %s", merr.Message)
	}
	if status == nil {
		return Intent{}, errors.New("midtrans: empty transaction status")
	}
	if status.StatusCode == "404" {
		return Intent{}, fmt.Errorf("midtrans: transaction %s not found", clientSecret)
	}

	return Intent{
		ID:             clientSecret,
		ClientSecret:   clientSecret,
		Status:         mapMidtransStatus(status.TransactionStatus, status.FraudStatus),
		FailureMessage: status.StatusMessage,
	}, nil
}

func mapMidtransStatus(transactionStatus, fraudStatus string) Status {
	switch transactionStatus {
	case "settlement":
		return StatusSucceeded
	case "capture":
		if fraudStatus == "" || fraudStatus == "accept" {
			return StatusSucceeded
		}
		return StatusProcessing
	case "pending", "authorize":
		return StatusProcessing
	case "cancel", "expire":
		return StatusCanceled
	case "deny", "failure", "refund", "partial_refund":
		return StatusFailed
	default:
		return StatusRequiresAction
	}
}

func returnURLWithSecret(returnURL, secret string) string {
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "payment_intent_client_secret=" + secret
}
