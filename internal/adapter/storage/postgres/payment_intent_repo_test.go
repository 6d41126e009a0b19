package postgres

import (
	"context"
	"testing"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIntent() *domain.PaymentIntent {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.PaymentIntent{
		ID:        uuid.New(),
		OwnerID:   "rider-9",
		Provider:  domain.ProviderMTNMoMo,
		Direction: domain.IntentDirectionCollect,
		Purpose:   domain.PurposeWalletTopup,
		Amount:    15000,
		Currency:  "UGX",
		Phone:     "+256772123456",
		Status:    domain.IntentStatusPending,
		Metadata:  map[string]string{domain.MetaWalletID: uuid.NewString()},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func intentColumnNames() []string {
	return []string{"id", "owner_id", "provider", "direction", "purpose", "amount", "currency", "phone",
		"provider_reference", "status", "failure_reason", "metadata", "created_at", "updated_at", "completed_at",
		"last_polled_at"}
}

func intentRow(rows *pgxmock.Rows, p *domain.PaymentIntent) *pgxmock.Rows {
	return rows.AddRow(p.ID, p.OwnerID, p.Provider, p.Direction, p.Purpose, p.Amount, p.Currency, p.Phone,
		p.ProviderReference, p.Status, p.FailureReason, p.Metadata, p.CreatedAt, p.UpdatedAt, p.CompletedAt,
		p.LastPolledAt)
}

func TestPaymentIntentRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := newTestIntent()
	mock.ExpectExec("INSERT INTO payment_intents").
		WithArgs(p.ID, p.OwnerID, p.Provider, p.Direction, p.Purpose, p.Amount, p.Currency, p.Phone,
			"", p.Status, "", p.Metadata, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, NewPaymentIntentRepo(mock).Create(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepo_GetByProviderReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := newTestIntent()
	p.Status = domain.IntentStatusProcessing
	p.ProviderReference = "momo-ref-1"

	mock.ExpectQuery("SELECT .+ FROM payment_intents\\s+WHERE provider_reference = \\$1 AND \\(\\$2::text = '' OR provider = \\$2\\)").
		WithArgs("momo-ref-1", "mtn_momo").
		WillReturnRows(intentRow(pgxmock.NewRows(intentColumnNames()), p))

	result, err := NewPaymentIntentRepo(mock).GetByProviderReference(context.Background(), domain.ProviderMTNMoMo, "momo-ref-1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, p.ID, result.ID)
	assert.Equal(t, domain.IntentStatusProcessing, result.Status)
	walletID, ok := result.WalletID()
	assert.True(t, ok)
	assert.Equal(t, p.Metadata[domain.MetaWalletID], walletID.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM payment_intents WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(intentColumnNames()))

	result, err := NewPaymentIntentRepo(mock).GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestPaymentIntentRepo_MarkProcessing(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"pending intent", 1, true},
		{"already moved on", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			id := uuid.New()
			mock.ExpectExec("UPDATE payment_intents SET status = 'PROCESSING'.+WHERE id = .+ AND status = 'PENDING'").
				WithArgs("ref-1", id).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := NewPaymentIntentRepo(mock).MarkProcessing(context.Background(), id, "ref-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestPaymentIntentRepo_TransitionTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentIntentRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_intents .+ WHERE id = .+ AND status IN \\('PENDING', 'PROCESSING'\\)").
		WithArgs(domain.IntentStatusCompleted, "", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE payment_intents .+ WHERE id = .+ AND status IN").
		WithArgs(domain.IntentStatusFailed, "late failure", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	won, err := repo.TransitionTerminal(context.Background(), tx, id, domain.IntentStatusCompleted, "")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.TransitionTerminal(context.Background(), tx, id, domain.IntentStatusFailed, "late failure")
	require.NoError(t, err)
	assert.False(t, won, "second terminal transition must lose the compare-and-set")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepo_TransitionTerminal_RejectsOpenStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	_, err = NewPaymentIntentRepo(mock).TransitionTerminal(context.Background(), tx, uuid.New(), domain.IntentStatusProcessing, "")
	assert.ErrorContains(t, err, "not terminal")
}

func TestPaymentIntentRepo_ListOpen(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Now().UTC().Add(-time.Minute)
	a, b := newTestIntent(), newTestIntent()
	b.Status = domain.IntentStatusProcessing
	b.ProviderReference = "airtel-7"

	rows := pgxmock.NewRows(intentColumnNames())
	intentRow(rows, a)
	intentRow(rows, b)

	mock.ExpectQuery("SELECT .+ FROM payment_intents\\s+WHERE status IN .+ AND updated_at < \\$1\\s+AND \\(last_polled_at IS NULL OR last_polled_at < \\$1\\)\\s+ORDER BY last_polled_at NULLS FIRST, updated_at LIMIT").
		WithArgs(cutoff, 100).
		WillReturnRows(rows)

	intents, err := NewPaymentIntentRepo(mock).ListOpen(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, "airtel-7", intents[1].ProviderReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepo_GetByProviderReference_AnyProvider(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM payment_intents\\s+WHERE provider_reference = .+ORDER BY created_at DESC LIMIT 1").
		WithArgs("shared-ref", "").
		WillReturnRows(pgxmock.NewRows(intentColumnNames()))

	result, err := NewPaymentIntentRepo(mock).GetByProviderReference(context.Background(), "", "shared-ref")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepo_MarkPolled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	at := time.Now().UTC()
	mock.ExpectExec("UPDATE payment_intents SET last_polled_at = \\$1 WHERE id = \\$2").
		WithArgs(at, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewPaymentIntentRepo(mock).MarkPolled(context.Background(), id, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
