package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/iris"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

const (
	MidtransName = "midtrans"
	// MidtransCurrency is the only currency Midtrans charges and pays out in.
	MidtransCurrency = "IDR"
)

// Beneficiary is the bank account a tutor is paid out to.
type Beneficiary struct {
	Name    string
	Account string
	Bank    string
	Email   string
}

// BeneficiaryResolver finds payout details for a tutor. Tutor profiles live outside
// this service.
type BeneficiaryResolver interface {
	Beneficiary(ctx context.Context, userID int64) (Beneficiary, error)
}

// BeneficiaryFunc adapts a function to BeneficiaryResolver.
type BeneficiaryFunc func(ctx context.Context, userID int64) (Beneficiary, error)

func (f BeneficiaryFunc) Beneficiary(ctx context.Context, userID int64) (Beneficiary, error) {
	return f(ctx, userID)
}

// Midtrans checks Snap payments and refunds through Core API and pays tutors out
// through Iris. The lesson ID is used as the Snap order ID.
type Midtrans struct {
	core          coreapi.Client
	iris          iris.Client
	beneficiaries BeneficiaryResolver
}

func NewMidtrans(serverKey, irisKey string, production bool, beneficiaries BeneficiaryResolver) *Midtrans {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	m := &Midtrans{beneficiaries: beneficiaries}
	m.core.New(serverKey, env)
	m.iris.New(irisKey, env)
	return m
}

func (m *Midtrans) Name() string { return MidtransName }

// ChargeForLesson succeeds once the Snap order of the lesson is captured or settled.
func (m *Midtrans) ChargeForLesson(ctx context.Context, lesson *model.Lesson) (ChargeResult, error) {
	resp, err := call(ctx, func() (*coreapi.TransactionStatusResponse, *midtrans.Error) {
		return m.core.CheckTransaction(lesson.ID.String())
	})
	if err != nil {
		return ChargeResult{}, fmt.Errorf("check transaction: %w", err)
	}

	switch resp.TransactionStatus {
	case "capture", "settlement":
		if resp.FraudStatus != "" && resp.FraudStatus != "accept" {
			return ChargeResult{}, fmt.Errorf("%w: fraud status %s", ErrDeclined, resp.FraudStatus)
		}
		return ChargeResult{TxID: resp.TransactionID}, nil
	case "pending":
		return ChargeResult{}, fmt.Errorf("%w: payment still pending", ErrTransient)
	default:
		return ChargeResult{}, fmt.Errorf("%w: transaction %s", ErrDeclined, resp.TransactionStatus)
	}
}

// Refund returns the amount of the lesson's order. The record ID is the refund key,
// so a retried refund is not applied twice.
func (m *Midtrans) Refund(ctx context.Context, record *model.SettlementRecord) (Result, error) {
	amount, err := midtransAmount(record)
	if err != nil {
		return Result{}, err
	}
	req := &coreapi.RefundReq{
		RefundKey: record.ID.String(),
		Amount:    amount,
		Reason:    "lesson cancelled",
	}
	resp, err := call(ctx, func() (*coreapi.RefundResponse, *midtrans.Error) {
		return m.core.RefundTransaction(record.LessonID.String(), req)
	})
	if err != nil {
		return Result{}, fmt.Errorf("refund transaction: %w", err)
	}
	return Result{TxID: resp.TransactionID}, nil
}

// Payout sends the tutor's share through Iris. The record ID is the idempotency key, so a
// payout retried after a lost response is not sent twice.
func (m *Midtrans) Payout(ctx context.Context, record *model.SettlementRecord) (Result, error) {
	if m.beneficiaries == nil {
		return Result{}, fmt.Errorf("%w: no beneficiary resolver configured", ErrDeclined)
	}
	b, err := m.beneficiaries.Beneficiary(ctx, record.BeneficiaryID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve beneficiary: %w", err)
	}

	req, err := payoutRequest(record, b)
	if err != nil {
		return Result{}, err
	}
	client := m.irisFor(record)
	resp, err := call(ctx, func() (*iris.CreatePayoutResponse, *midtrans.Error) {
		return client.CreatePayout(req)
	})
	if err != nil {
		return Result{}, fmt.Errorf("create payout: %w", err)
	}
	if len(resp.Payouts) == 0 {
		return Result{}, fmt.Errorf("%w: empty payout response", ErrTransient)
	}
	return Result{TxID: resp.Payouts[0].ReferenceNo}, nil
}

// irisFor returns a copy of the Iris client carrying the record's idempotency key.
func (m *Midtrans) irisFor(record *model.SettlementRecord) iris.Client {
	client := m.iris
	client.Options = &midtrans.ConfigOptions{}
	client.Options.SetIrisIdempotencyKey(record.ID.String())
	return client
}

func payoutRequest(record *model.SettlementRecord, b Beneficiary) (iris.CreatePayoutReq, error) {
	amount, err := midtransAmount(record)
	if err != nil {
		return iris.CreatePayoutReq{}, err
	}
	return iris.CreatePayoutReq{
		Payouts: []iris.CreatePayoutDetailReq{{
			BeneficiaryName:    b.Name,
			BeneficiaryAccount: b.Account,
			BeneficiaryBank:    b.Bank,
			BeneficiaryEmail:   b.Email,
			Amount:             strconv.FormatInt(amount, 10),
			Notes:              "lesson " + record.LessonID.String(),
		}},
	}, nil
}

// midtransAmount converts minor units (1/100 IDR) into the whole rupiah Midtrans takes.
// Sen below a rupiah are dropped, like the commission remainder in TutorShare.
func midtransAmount(record *model.SettlementRecord) (int64, error) {
	if !strings.EqualFold(record.Currency, MidtransCurrency) {
		return 0, fmt.Errorf("%w: midtrans settles %s only, got %q", ErrDeclined, MidtransCurrency, record.Currency)
	}
	return record.AmountMinor / 100, nil
}

// call runs a blocking SDK request and gives up when ctx is done. The SDK has no
// context support, so an abandoned request finishes in the background.
func call[T any](ctx context.Context, fn func() (T, *midtrans.Error)) (T, error) {
	type outcome struct {
		resp T
		err  *midtrans.Error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := fn()
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return out.resp, classifyMidtrans(out.err)
		}
		return out.resp, nil
	}
}

func classifyMidtrans(err *midtrans.Error) error {
	code := err.GetStatusCode()
	switch {
	case code == 0, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrTransient, err.GetMessage())
	default:
		return fmt.Errorf("%w: %s", ErrDeclined, err.GetMessage())
	}
}
