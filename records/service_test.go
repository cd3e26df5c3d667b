package records_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/calculator-engine/calculator"
	"github.com/warp/calculator-engine/ledger"
	"github.com/warp/calculator-engine/records"
	"github.com/warp/calculator-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

// catalog ids after seeding DefaultOperations into an empty store
const (
	opAdd ledger.OperationID = iota + 1
	opSub
	opMul
	opDiv
	opSqrt
	opRandom
)

func newService(t *testing.T, store ledger.Store, seed *memory.Memory) *records.Service {
	_, err := seed.SeedOperations(context.Background(), ledger.DefaultOperations())
	require.NoError(t, err)
	return records.NewService(store, records.WithClock(func() time.Time { return testNow }))
}

func newTestService(t *testing.T) (*records.Service, *memory.Memory) {
	store := memory.New()
	return newService(t, store, store), store
}

func register(t *testing.T, svc *records.Service, name string) ledger.User {
	u, err := svc.RegisterUser(context.Background(), name, "sub-"+name)
	require.NoError(t, err)
	return u
}

func balanceOf(t *testing.T, store *memory.Memory, sub string) string {
	u, err := store.GetUserByExternalID(context.Background(), sub)
	require.NoError(t, err)
	return ledger.FormatMoney(u.Balance)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_ChargesAndRecords(t *testing.T) {
	// GIVEN: a new user with the default balance
	// WHEN: they add 10 and 5
	// THEN: the record holds "15", the cost, and the post-debit balance
	svc, store := newTestService(t)
	register(t, svc, "alice")

	rec, err := svc.Create(context.Background(), "sub-alice", records.CreateInput{OperationID: opAdd, Num1: "10", Num2: "5"})
	require.NoError(t, err)

	assert.Equal(t, "15", rec.OperationResponse)
	assert.Equal(t, "5.00", ledger.FormatMoney(rec.Amount))
	assert.Equal(t, "4995.00", ledger.FormatMoney(rec.UserBalance))
	assert.Equal(t, testNow, rec.Date)
	assert.True(t, rec.Active)
	require.NotNil(t, rec.Operation)
	assert.Equal(t, "addition", rec.Operation.Type)
	assert.Equal(t, "4995.00", balanceOf(t, store, "sub-alice"))
}

func TestCreate_InvalidInputStillCharged(t *testing.T) {
	svc, store := newTestService(t)
	register(t, svc, "bob")

	rec, err := svc.Create(context.Background(), "sub-bob", records.CreateInput{OperationID: opMul, Num1: "10", Num2: "ten"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rec.OperationResponse, calculator.InvalidPrefix))
	assert.Equal(t, "4990.00", balanceOf(t, store, "sub-bob"))
}

func TestCreate_DivisionByZeroNotCharged(t *testing.T) {
	svc, store := newTestService(t)
	register(t, svc, "carol")

	_, err := svc.Create(context.Background(), "sub-carol", records.CreateInput{OperationID: opDiv, Num1: "10", Num2: "0"})
	assert.ErrorIs(t, err, calculator.ErrDivisionByZero)
	assert.Equal(t, "5000.00", balanceOf(t, store, "sub-carol"))

	page, err := svc.List(context.Background(), "sub-carol", records.ListQuery{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestCreate_RandomStringEchoesNum1(t *testing.T) {
	svc, store := newTestService(t)
	register(t, svc, "dave")

	rec, err := svc.Create(context.Background(), "sub-dave", records.CreateInput{OperationID: opRandom, Num1: "123"})
	require.NoError(t, err)
	assert.Equal(t, "123", rec.OperationResponse)
	assert.Equal(t, "4980.00", balanceOf(t, store, "sub-dave"))
}

func TestCreate_SquareRoot(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "erin")

	rec, err := svc.Create(context.Background(), "sub-erin", records.CreateInput{OperationID: opSqrt, Num1: "16"})
	require.NoError(t, err)
	assert.Equal(t, "4", rec.OperationResponse)
	assert.Equal(t, "4985.00", ledger.FormatMoney(rec.UserBalance))
}

func TestCreate_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "frank")

	_, err := svc.Create(context.Background(), "sub-frank", records.CreateInput{OperationID: 99, Num1: "1", Num2: "1"})
	assert.ErrorIs(t, err, ledger.ErrOperationNotFound)

	_, err = svc.Create(context.Background(), "sub-nobody", records.CreateInput{OperationID: opAdd, Num1: "1", Num2: "1"})
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	poor := memory.New()
	svcPoor := newService(t, poor, poor)
	_, err = poor.CreateUser(context.Background(), ledger.User{
		Username: "poor", Balance: decimal.RequireFromString("3.00"), ExternalID: "sub-poor",
	})
	require.NoError(t, err)
	_, err = svcPoor.Create(context.Background(), "sub-poor", records.CreateInput{OperationID: opAdd, Num1: "1", Num2: "1"})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, "3.00", balanceOf(t, poor, "sub-poor"))
}

// flakyStore loses the optimistic race a fixed number of times.
type flakyStore struct {
	*memory.Memory
	failures int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return f.Memory.WithTx(ctx, func(tx ledger.Tx) error {
		return fn(&flakyTx{Tx: tx, store: f})
	})
}

type flakyTx struct {
	ledger.Tx
	store *flakyStore
}

func (t *flakyTx) UpdateBalance(ctx context.Context, u ledger.User) error {
	if t.store.failures > 0 {
		t.store.failures--
		return ledger.ErrConcurrentModification
	}
	return t.Tx.UpdateBalance(ctx, u)
}

func TestCreate_RetriesLostRace(t *testing.T) {
	mem := memory.New()
	flaky := &flakyStore{Memory: mem, failures: 2}
	svc := newService(t, flaky, mem)
	register(t, svc, "gina")

	rec, err := svc.Create(context.Background(), "sub-gina", records.CreateInput{OperationID: opAdd, Num1: "2", Num2: "2"})
	require.NoError(t, err)
	assert.Equal(t, "4", rec.OperationResponse)
	assert.Equal(t, "4995.00", balanceOf(t, mem, "sub-gina"), "charged exactly once")
}

func TestCreate_GivesUpAfterRepeatedRaces(t *testing.T) {
	mem := memory.New()
	flaky := &flakyStore{Memory: mem, failures: 10}
	svc := newService(t, flaky, mem)
	register(t, svc, "hank")

	_, err := svc.Create(context.Background(), "sub-hank", records.CreateInput{OperationID: opAdd, Num1: "2", Num2: "2"})
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.Equal(t, "5000.00", balanceOf(t, mem, "sub-hank"))
}

// =============================================================================
// LIST / GET / DELETE
// =============================================================================

func TestList_PaginationAndTotal(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "ivy")

	for i := 0; i < 25; i++ {
		_, err := svc.Create(context.Background(), "sub-ivy", records.CreateInput{OperationID: opAdd, Num1: "1", Num2: "1"})
		require.NoError(t, err)
	}

	page, err := svc.List(context.Background(), "sub-ivy", records.ListQuery{Page: 2, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	require.Len(t, page.Records, 10)
	assert.Equal(t, ledger.RecordID(11), page.Records[0].ID)
	assert.Equal(t, ledger.RecordID(20), page.Records[9].ID)

	_, err = svc.List(context.Background(), "sub-ivy", records.ListQuery{Page: 0, PerPage: 10})
	assert.ErrorIs(t, err, ledger.ErrInvalidPagination)
}

func TestGetAndDelete_OwnerScoped(t *testing.T) {
	// GIVEN: a record owned by jack
	// WHEN: kim tries to read or delete it
	// THEN: it looks missing to kim and stays active for jack
	svc, _ := newTestService(t)
	register(t, svc, "jack")
	register(t, svc, "kim")

	rec, err := svc.Create(context.Background(), "sub-jack", records.CreateInput{OperationID: opSub, Num1: "9", Num2: "4"})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "sub-kim", rec.ID)
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), "sub-kim", rec.ID), ledger.ErrRecordNotFound)

	got, err := svc.Get(context.Background(), "sub-jack", rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestDelete_SoftDeleteIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "lea")

	rec, err := svc.Create(context.Background(), "sub-lea", records.CreateInput{OperationID: opAdd, Num1: "1", Num2: "2"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), "sub-lea", rec.ID))
	require.NoError(t, svc.Delete(context.Background(), "sub-lea", rec.ID))

	page, err := svc.List(context.Background(), "sub-lea", records.ListQuery{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	got, err := svc.Get(context.Background(), "sub-lea", rec.ID)
	require.NoError(t, err, "inactive records stay readable")
	assert.False(t, got.Active)
	assert.Equal(t, "3", got.OperationResponse)

	assert.ErrorIs(t, svc.Delete(context.Background(), "sub-lea", 404), ledger.ErrRecordNotFound)
}

func TestRegisterUser(t *testing.T) {
	store := memory.New()
	svc := records.NewService(store, records.WithDefaultBalance(decimal.NewFromInt(100)))

	u, err := svc.RegisterUser(context.Background(), "mo", "sub-mo")
	require.NoError(t, err)
	assert.Equal(t, "100.00", ledger.FormatMoney(u.Balance))
	assert.True(t, u.Status)

	_, err = svc.RegisterUser(context.Background(), "mo", "sub-mo")
	assert.ErrorIs(t, err, ledger.ErrUserExists)

	found, err := svc.UserByUsername(context.Background(), "mo")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}
