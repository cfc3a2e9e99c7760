package order_test

import (
	"context"
	"errors"
	"testing"

	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func corporate(method models.PaymentMethod, qty int) models.CreateB2BOrderRequest {
	return models.CreateB2BOrderRequest{
		Company:       models.Company{Name: "Orange SRL", TaxID: "1002600000000"},
		Contact:       models.Customer{Name: "Ion", Email: "hr@orange.md", Language: "en"},
		Items:         []models.CartLine{line("T2", qty)},
		PaymentMethod: method,
	}
}

func TestQuoteB2B(t *testing.T) {
	env := newTestEnv(t)

	q, err := env.svc.QuoteB2B(context.Background(), []models.CartLine{line("T2", 120)})
	require.NoError(t, err)

	assert.Equal(t, 120, q.TotalTickets)
	assert.True(t, decimal.NewFromInt(18000).Equal(q.TotalAmount))
	assert.Equal(t, 12, q.DiscountPercent)
	assert.Equal(t, "2160.00", q.DiscountAmount.StringFixed(2))
	assert.Equal(t, "15840.00", q.FinalAmount.StringFixed(2))
	assert.True(t, q.Eligible)
	require.NotNil(t, q.NextTier)
	assert.Equal(t, 15, q.NextTier.Percent)
	assert.Equal(t, 30, q.TicketsToNextTier)
}

func TestCreateB2BOrder_RequiresMinimumQuantity(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateB2BOrder(context.Background(), corporate(models.PaymentMethodOnline, 49))

	assert.Equal(t, order.CodeMinQuantity, validationCode(err))
}

func TestCreateB2BOrder_InvoiceIsSent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.notifier.On("SendB2BInvoice", mock.Anything, mock.Anything).Return(nil).Once()

	o, err := env.svc.CreateB2BOrder(ctx, corporate(models.PaymentMethodInvoice, 120))
	require.NoError(t, err)

	assert.Regexp(t, `^B2B2507-[A-Z0-9]{6}$`, o.OrderNumber)
	assert.Equal(t, "F-"+o.OrderNumber, o.InvoiceNumber)
	assert.Equal(t, models.StatusInvoiceSent, o.Status)

	got, err := env.svc.GetB2BOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvoiceSent, got.Status)
	assert.Equal(t, "15840.00", got.FinalAmount.StringFixed(2))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 120, got.Items[0].Quantity)
	env.notifier.AssertExpectations(t)
}

func TestConfirmB2BInvoicePayment_ExplodesAndDelivers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.notifier.On("SendB2BInvoice", mock.Anything, mock.Anything).Return(nil)
	env.notifier.On("SendB2BTickets", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	o, err := env.svc.CreateB2BOrder(ctx, corporate(models.PaymentMethodInvoice, 60))
	require.NoError(t, err)

	require.NoError(t, env.svc.ConfirmB2BInvoicePayment(ctx, o.ID))
	require.NoError(t, env.svc.ConfirmB2BInvoicePayment(ctx, o.ID))

	got, err := env.svc.GetB2BOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, models.PaymentOK, got.PaymentStatus)
	assert.False(t, got.TicketsSentAt.IsZero())
	require.Len(t, got.Items, 60)
	codes := map[string]bool{}
	for _, it := range got.Items {
		assert.Equal(t, 1, it.Quantity)
		assert.NotEmpty(t, it.PDFURL)
		codes[it.TicketCode] = true
	}
	assert.Len(t, codes, 60)
	env.notifier.AssertNumberOfCalls(t, "SendB2BTickets", 1)
}

func TestB2BOnlinePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.notifier.On("SendB2BTickets", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	o, err := env.svc.CreateB2BOrder(ctx, corporate(models.PaymentMethodOnline, 50))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, o.Status)

	txn, err := env.svc.StartB2BPayment(ctx, o.ID, "10.0.0.2")
	require.NoError(t, err)
	status, err := env.gw.GetStatus(ctx, txn.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "6750.00", status.Amount.StringFixed(2))

	applied, err := env.svc.MarkB2BAsPaid(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, env.svc.ProcessSuccessfulB2BOrder(ctx, o.ID))
	require.NoError(t, env.svc.ProcessSuccessfulB2BOrder(ctx, o.ID))

	got, err := env.store.GetB2BOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	env.notifier.AssertNumberOfCalls(t, "SendB2BTickets", 1)
}

func TestConfirmB2BPayment_QueuesFailedDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.notifier.On("SendB2BTickets", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
	env.notifier.On("SendB2BTickets", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	o, err := env.svc.CreateB2BOrder(ctx, corporate(models.PaymentMethodOnline, 50))
	require.NoError(t, err)

	applied, err := env.svc.ConfirmB2BPayment(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := env.store.GetB2BOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTicketsGenerated, got.Status)

	task, err := env.store.GetTaskByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubjectCorporate, task.SubjectKind)
	assert.Equal(t, models.TaskPending, task.Status)

	require.NoError(t, env.svc.FulfillB2BOrder(ctx, o.ID))
	require.NoError(t, env.svc.FulfillB2BOrder(ctx, o.ID))

	got, err = env.store.GetB2BOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	env.notifier.AssertNumberOfCalls(t, "SendB2BTickets", 2)
}

func TestConfirmB2BPayment_DeliveredWithoutTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.notifier.On("SendB2BTickets", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	o, err := env.svc.CreateB2BOrder(ctx, corporate(models.PaymentMethodOnline, 50))
	require.NoError(t, err)

	_, err = env.svc.ConfirmB2BPayment(ctx, o.ID)
	require.NoError(t, err)

	_, err = env.store.GetTaskByOrder(ctx, o.ID)
	assert.Error(t, err)
	env.notifier.AssertExpectations(t)
}

func TestMarkB2BAsFailed_ThenLateCapture(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o, err := env.svc.CreateB2BOrder(ctx, corporate(models.PaymentMethodOnline, 50))
	require.NoError(t, err)

	applied, err := env.svc.MarkB2BAsFailed(ctx, o.ID, "DECLINED")
	require.NoError(t, err)
	require.True(t, applied)

	got, err := env.store.GetB2BOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentFailed, got.Status)

	applied, err = env.svc.MarkB2BAsPaid(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestRefundB2B_InvoiceOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.notifier.On("SendB2BInvoice", mock.Anything, mock.Anything).Return(nil)
	env.notifier.On("SendB2BTickets", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	o, err := env.svc.CreateB2BOrder(ctx, corporate(models.PaymentMethodInvoice, 50))
	require.NoError(t, err)
	err = env.svc.RefundB2B(ctx, o.ID)
	assert.Equal(t, order.CodeNotRefundable, validationCode(err))

	require.NoError(t, env.svc.ConfirmB2BInvoicePayment(ctx, o.ID))
	require.NoError(t, env.svc.RefundB2B(ctx, o.ID))

	got, err := env.svc.GetB2BOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, got.Status)
	assert.Equal(t, models.PaymentReversed, got.PaymentStatus)
	for _, it := range got.Items {
		assert.Equal(t, models.ItemRefunded, it.Status)
	}
}
