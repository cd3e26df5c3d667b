/*
handlers_test.go - End-to-end tests for the HTTP API

Each test runs the full router over an in-memory SQLite store, the local
identity provider, a real authorization gate and a fake random-string
provider.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/calculator-engine/api"
	"github.com/warp/calculator-engine/auth"
	"github.com/warp/calculator-engine/config"
	"github.com/warp/calculator-engine/identity"
	"github.com/warp/calculator-engine/ledger"
	"github.com/warp/calculator-engine/randomstring"
	"github.com/warp/calculator-engine/records"
	"github.com/warp/calculator-engine/store/sqlstore"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testIssuer   = "http://localhost:8080/local"
	testClientID = "test-client"
	testPassword = "password123"
	testAPIARN   = "arn:aws:execute-api:local:000000000000:calculator"
)

type envOptions struct {
	autoConfirm bool
	balance     string
	resources   []string
	random      randomstring.Generator
}

type testEnv struct {
	t      *testing.T
	router http.Handler
	idp    *identity.Local
	store  *sqlstore.Store
	redis  *miniredis.Miniredis
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.SeedOperations(ctx, ledger.DefaultOperations())
	require.NoError(t, err)

	idp, err := identity.NewLocal(identity.LocalConfig{
		Issuer:      testIssuer,
		ClientID:    testClientID,
		AutoConfirm: opts.autoConfirm,
		BcryptCost:  bcrypt.MinCost,
	}, zerolog.Nop())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	if opts.resources == nil {
		opts.resources = config.DefaultResources(testAPIARN)
	}
	gate := auth.NewGate(auth.Config{
		Issuer:    testIssuer,
		ClientID:  testClientID,
		Resources: opts.resources,
	}, idp, auth.WithDenylist(auth.NewRedisDenylist(rdb)))

	if opts.random == nil {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("num") == "2" {
				w.Write([]byte("123\n456\n"))
				return
			}
			w.Write([]byte("aB3dE5gH7jK9mN1pQ3sT\n"))
		}))
		t.Cleanup(upstream.Close)
		opts.random = randomstring.NewClient(randomstring.Config{BaseURL: upstream.URL + "/strings/"}, zerolog.Nop())
	}

	var svcOpts []records.Option
	if opts.balance != "" {
		svcOpts = append(svcOpts, records.WithDefaultBalance(decimal.RequireFromString(opts.balance)))
	}
	svc := records.NewService(store, svcOpts...)

	h := api.NewHandler(svc, idp, gate, opts.random, zerolog.Nop())
	return &testEnv{t: t, router: api.NewRouter(h), idp: idp, store: store, redis: mr}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// signUpAndIn registers a confirmed user and returns its access token.
func (e *testEnv) signUpAndIn(username string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v1/signup", "", map[string]string{"username": username, "password": testPassword})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())

	if code, pending := e.idp.PendingCode(username); pending {
		rec = e.do(http.MethodPost, "/v1/confirm", "", map[string]string{"username": username, "confirmation_code": code})
		require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodPost, "/v1/signin", "", map[string]string{"username": username, "password": testPassword})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp api.SignInResponse
	decode(e.t, rec, &resp)
	return resp.AccessToken
}

func (e *testEnv) createRecord(token string, opID int64, num1, num2 string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, "/v1/records", token, map[string]any{"operation_id": opID, "num1": num1, "num2": num2})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

type recordResponse struct {
	Message string        `json:"message"`
	Data    api.RecordDTO `json:"data"`
}

// Operation ids in seed order.
const (
	opAddition int64 = iota + 1
	opSubtraction
	opMultiplication
	opDivision
	opSquareRoot
	opRandomString
)

// =============================================================================
// PUBLIC ROUTES
// =============================================================================

func TestRoot(t *testing.T) {
	env := newTestEnv(t, envOptions{autoConfirm: true})

	rec := env.do(http.MethodGet, "/", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Welcome to the calculator backend API."}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	// GIVEN: a running store
	env := newTestEnv(t, envOptions{autoConfirm: true})

	// WHEN/THEN: the readiness check passes without a token
	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())

	// GIVEN: the store connection is gone
	require.NoError(t, env.store.Close())

	// WHEN/THEN: the readiness check reports the outage
	rec = env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Store unavailable")
}

func TestSignUpConfirmSignIn_Flow(t *testing.T) {
	// GIVEN: a provider that requires confirmation
	env := newTestEnv(t, envOptions{})
	creds := map[string]string{"username": "ada", "password": testPassword}

	// WHEN: the user signs up
	rec := env.do(http.MethodPost, "/v1/signup", "", creds)

	// THEN: the provider response is returned and a ledger account exists
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var signup struct {
		Message string                `json:"message"`
		Data    identity.SignUpResult `json:"data"`
	}
	decode(t, rec, &signup)
	assert.Equal(t, "Sign up successful", signup.Message)
	assert.NotEmpty(t, signup.Data.UserSub)
	assert.False(t, signup.Data.UserConfirmed)

	user, err := env.store.GetUserByExternalID(context.Background(), signup.Data.UserSub)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", ledger.FormatMoney(user.Balance))

	// Duplicate signup
	rec = env.do(http.MethodPost, "/v1/signup", "", creds)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Username already exists")

	// Unconfirmed signin
	rec = env.do(http.MethodPost, "/v1/signin", "", creds)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "User is not confirmed. Please confirm your account.")

	// Wrong code, unknown user, right code, repeat
	rec = env.do(http.MethodPost, "/v1/confirm", "", map[string]string{"username": "ada", "confirmation_code": "not-it"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid confirmation code.")

	rec = env.do(http.MethodPost, "/v1/confirm", "", map[string]string{"username": "nobody", "confirmation_code": "123456"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "User not found.")

	code, ok := env.idp.PendingCode("ada")
	require.True(t, ok)
	rec = env.do(http.MethodPost, "/v1/confirm", "", map[string]string{"username": "ada", "confirmation_code": code})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "User confirmed successfully. You can now sign in.")

	rec = env.do(http.MethodPost, "/v1/confirm", "", map[string]string{"username": "ada", "confirmation_code": code})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "User is already confirmed.")

	// Wrong password
	rec = env.do(http.MethodPost, "/v1/signin", "", map[string]string{"username": "ada", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")

	// Signin
	rec = env.do(http.MethodPost, "/v1/signin", "", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	var signin api.SignInResponse
	decode(t, rec, &signin)
	assert.Equal(t, "Sign in successful", signin.Message)
	assert.NotEmpty(t, signin.AccessToken)
	assert.Equal(t, "ada", signin.User.Username)
	assert.Equal(t, "5000.00", signin.User.Balance)
	assert.Equal(t, signup.Data.UserSub, signin.User.CognitoUserID)
	assert.True(t, signin.User.Status)
}

func TestSignUp_InvalidBody(t *testing.T) {
	env := newTestEnv(t, envOptions{autoConfirm: true})

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"username":`},
		{"missing password", map[string]string{"username": "ada"}},
		{"short password", map[string]string{"username": "ada", "password": "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/v1/signup", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

func TestProtectedRoutes_RejectMissingOrBadToken(t *testing.T) {
	env := newTestEnv(t, envOptions{autoConfirm: true})

	for _, path := range []string{"/v1/operations", "/v1/records", "/v1/random-string?numeric=true"} {
		rec := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		rec = env.do(http.MethodGet, path, "not.a.token", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestProtectedRoutes_PolicyDoesNotCoverRoute(t *testing.T) {
	// GIVEN: a gate whose policy only grants the operation catalog
	env := newTestEnv(t, envOptions{
		autoConfirm: true,
		resources:   []string{testAPIARN + "/*/GET/v1/operations"},
	})
	token := env.signUpAndIn("ada")

	// WHEN/THEN: the granted route passes and the others are forbidden
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/operations", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/v1/records", token, nil).Code)
}

func TestSignOut_RevokesToken(t *testing.T) {
	// GIVEN: a signed-in user
	env := newTestEnv(t, envOptions{autoConfirm: true})
	token := env.signUpAndIn("ada")
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/operations", token, nil).Code)

	// WHEN: the user signs out
	rec := env.do(http.MethodPost, "/v1/signout", token, map[string]string{"access_token": token})

	// THEN: the token no longer passes the gate
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Sign out successful")
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/v1/operations", token, nil).Code)
}

func TestAuthorizer_DenylistDown(t *testing.T) {
	// GIVEN: a valid token and an unreachable denylist
	env := newTestEnv(t, envOptions{autoConfirm: true})
	token := env.signUpAndIn("ada")
	env.redis.Close()

	// THEN: the gate cannot decide and the request fails closed
	rec := env.do(http.MethodGet, "/v1/operations", token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestListOperations(t *testing.T) {
	env := newTestEnv(t, envOptions{autoConfirm: true})
	token := env.signUpAndIn("ada")

	rec := env.do(http.MethodGet, "/v1/operations", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []api.OperationDTO `json:"data"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Data, 6)
	assert.Equal(t, api.OperationDTO{ID: 1, Type: "addition", Cost: "5.00", Symbol: "+", IsArithmetic: true}, resp.Data[0])
	assert.Equal(t, "random_string", resp.Data[5].Type)
	assert.False(t, resp.Data[5].IsArithmetic)
}

// =============================================================================
// RECORDS
// =============================================================================

func TestCreateRecord_DebitsBalance(t *testing.T) {
	env := newTestEnv(t, envOptions{autoConfirm: true})
	token := env.signUpAndIn("ada")

	tests := []struct {
		name     string
		body     any
		response string
		balance  string
	}{
		{"addition", map[string]any{"operation_id": opAddition, "num1": "5", "num2": "10"}, "15", "4995.00"},
		{"numbers as json numbers", map[string]any{"operation_id": opSubtraction, "num1": 3, "num2": 10}, "-7", "4990.00"},
		{"division", map[string]any{"operation_id": opDivision, "num1": "1", "num2": "3"}, "0.3333333333333333", "4980.00"},
		{"square root", map[string]any{"operation_id": opSquareRoot, "num1": "144", "num2": ""}, "12", "4965.00"},
		{"random string echoes num1", map[string]any{"operation_id": opRandomString, "num1": "aB3dE5gH7jK9mN1pQ3sT"}, "aB3dE5gH7jK9mN1pQ3sT", "4945.00"},
		{"computational error is charged", map[string]any{"operation_id": opAddition, "num1": "5", "num2": "x"}, "", "4940.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/v1/records", token, tt.body)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var resp recordResponse
			decode(t, rec, &resp)
			assert.Equal(t, "Record created successfully", resp.Message)
			if tt.response != "" {
				assert.Equal(t, tt.response, resp.Data.OperationResponse)
			} else {
				assert.True(t, strings.HasPrefix(resp.Data.OperationResponse, "Error: Invalid input or expression: "))
			}
			assert.Equal(t, tt.balance, resp.Data.UserBalance)
			assert.Equal(t, "ada", resp.Data.User.Username)
			_, err := time.Parse(api.DateLayout, resp.Data.Date)
			assert.NoError(t, err)
		})
	}
}

func TestCreateRecord_Failures(t *testing.T) {
	// GIVEN: a user who can afford two additions
	env := newTestEnv(t, envOptions{autoConfirm: true, balance: "12.00"})
	token := env.signUpAndIn("ada")

	tests := []struct {
		name  string
		body  any
		error string
	}{
		{"division by zero", map[string]any{"operation_id": opDivision, "num1": "4", "num2": "0"}, "Divisor can't be zero. Try other random number."},
		{"unknown operation", map[string]any{"operation_id": 99, "num1": "4", "num2": "1"}, "operation not found"},
		{"missing num1", map[string]any{"operation_id": opAddition}, ""},
		{"missing operation", map[string]any{"num1": "4", "num2": "1"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/v1/records", token, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp api.ErrorResponse
			decode(t, rec, &resp)
			assert.Equal(t, "Failed to create record", resp.Message)
			if tt.error != "" {
				assert.Contains(t, resp.Error, tt.error)
			}
		})
	}

	// None of the failures above charged the user.
	require.Equal(t, http.StatusOK, env.createRecord(token, opAddition, "1", "1").Code)
	require.Equal(t, http.StatusOK, env.createRecord(token, opAddition, "1", "1").Code)

	// WHEN: a third addition exceeds the remaining 2.00
	rec := env.createRecord(token, opAddition, "1", "1")

	// THEN: it is rejected and nothing is charged
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient balance")

	user, err := env.store.GetUserByUsername(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "2.00", ledger.FormatMoney(user.Balance))
}

func TestListRecords_PaginationAndFilter(t *testing.T) {
	env := newTestEnv(t, envOptions{autoConfirm: true})
	token := env.signUpAndIn("ada")
	other := env.signUpAndIn("grace")

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, env.createRecord(token, opAddition, "1", "2").Code)
	}
	require.Equal(t, http.StatusOK, env.createRecord(token, opMultiplication, "3", "4").Code)
	require.Equal(t, http.StatusOK, env.createRecord(other, opMultiplication, "5", "6").Code)

	list := func(query string) (int, api.RecordPageResponse) {
		rec := env.do(http.MethodGet, "/v1/records"+query, token, nil)
		var resp api.RecordPageResponse
		if rec.Code == http.StatusOK {
			decode(t, rec, &resp)
		}
		return rec.Code, resp
	}

	// Defaults
	code, page := list("")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4, page.TotalRecords)
	assert.Len(t, page.Data, 4)

	// Second page of two
	code, page = list("?page=2&per_page=2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4, page.TotalRecords)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "addition", page.Data[0].Operation.Type)
	assert.Equal(t, "multiplication", page.Data[1].Operation.Type)
	assert.Equal(t, "12", page.Data[1].OperationResponse)

	// Case-insensitive substring filter, scoped to the caller
	code, page = list("?operation_type=MULTI")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, page.TotalRecords)

	// Past the end
	code, page = list("?page=9")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, page.Data)
	assert.Equal(t, 4, page.TotalRecords)

	// Bad pagination
	for _, q := range []string{"?page=0", "?per_page=-1", "?page=abc"} {
		code, _ = list(q)
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestGetAndDeleteRecord(t *testing.T) {
	// GIVEN: a record owned by ada
	env := newTestEnv(t, envOptions{autoConfirm: true})
	token := env.signUpAndIn("ada")
	other := env.signUpAndIn("grace")

	rec := env.createRecord(token, opAddition, "2", "2")
	require.Equal(t, http.StatusOK, rec.Code)
	var created recordResponse
	decode(t, rec, &created)
	path := "/v1/records/" + strconv.FormatInt(created.Data.ID, 10)

	// Another user cannot see or delete it
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, path, other, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, path, other, nil).Code)

	// WHEN: ada deletes it
	rec = env.do(http.MethodDelete, path, token, nil)

	// THEN: it is hidden from the list but still retrievable
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Record `+strconv.FormatInt(created.Data.ID, 10)+` was deleted successfully"}`, rec.Body.String())

	listRec := env.do(http.MethodGet, "/v1/records", token, nil)
	var page api.RecordPageResponse
	decode(t, listRec, &page)
	assert.Equal(t, 0, page.TotalRecords)

	rec = env.do(http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got recordResponse
	decode(t, rec, &got)
	assert.False(t, got.Data.Active)
	assert.Equal(t, "4", got.Data.OperationResponse)

	// Deleting again still succeeds; unknown ids do not
	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, path, token, nil).Code)

	rec = env.do(http.MethodDelete, "/v1/records/999", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Record 999 not found")
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/records/abc", token, nil).Code)
}

// =============================================================================
// RANDOM STRING
// =============================================================================

type failingGenerator struct{ err error }

func (f failingGenerator) Generate(context.Context, bool) ([]string, error) { return nil, f.err }

func TestRandomString(t *testing.T) {
	env := newTestEnv(t, envOptions{autoConfirm: true})
	token := env.signUpAndIn("ada")

	rec := env.do(http.MethodGet, "/v1/random-string?numeric=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["123","456"]}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/v1/random-string?numeric=false", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["aB3dE5gH7jK9mN1pQ3sT"]}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/v1/random-string", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing required parameter: numeric")
}

func TestRandomString_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"upstream status passes through", &randomstring.UpstreamError{StatusCode: http.StatusServiceUnavailable}, http.StatusServiceUnavailable},
		{"unreachable", randomstring.ErrUnavailable, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{autoConfirm: true, random: failingGenerator{err: tt.err}})
			token := env.signUpAndIn("ada")

			rec := env.do(http.MethodGet, "/v1/random-string?numeric=true", token, nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), "Failed to generate random strings")
		})
	}
}
