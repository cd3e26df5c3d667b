/*
handlers.go - HTTP API handlers for the calculator backend

PURPOSE:
  Exposes the record service, the identity provider and the random-string
  provider via REST API. Handles HTTP request/response, JSON serialization,
  and delegates to domain logic.

ENDPOINTS:
  Public:
    GET    /                      Welcome message
    GET    /health                Readiness: 503 when the store is down
    POST   /v1/signup             Register with the identity provider
    POST   /v1/signin             Exchange credentials for an access token
    POST   /v1/confirm            Confirm a signup

  Authorized (see middleware.go):
    GET    /v1/operations         Operation catalog
    GET    /v1/records            Caller's active records, paginated
    POST   /v1/records            Run and pay for an operation
    GET    /v1/records/{id}       One record, active or not
    DELETE /v1/records/{id}       Soft delete
    GET    /v1/random-string      Strings from the random-string provider
    POST   /v1/signout            Sign out and revoke the token

ERROR HANDLING:
  Errors are returned as JSON {error, message} with:
  - 400: Validation errors, failed record creation, bad confirmation
  - 401: Bad credentials, unconfirmed user, rejected token
  - 404: Record not found
  - 500: Provider and storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/warp/calculator-engine/auth"
	"github.com/warp/calculator-engine/calculator"
	"github.com/warp/calculator-engine/identity"
	"github.com/warp/calculator-engine/ledger"
	"github.com/warp/calculator-engine/randomstring"
	"github.com/warp/calculator-engine/records"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Records  *records.Service
	Identity identity.Provider
	Gate     *auth.Gate
	Random   randomstring.Generator

	log      zerolog.Logger
	validate *validator.Validate
}

// NewHandler creates a handler over the given services.
func NewHandler(svc *records.Service, idp identity.Provider, gate *auth.Gate, random randomstring.Generator, log zerolog.Logger) *Handler {
	return &Handler{
		Records:  svc,
		Identity: idp,
		Gate:     gate,
		Random:   random,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Root answers the unauthenticated health check.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Welcome to the calculator backend API."})
}

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Records.Ready(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("readiness check failed")
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "ok"})
}

// =============================================================================
// OPERATION HANDLERS
// =============================================================================

// ListOperations returns the operation catalog.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.Records.Operations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list operations", err)
		return
	}

	dtos := make([]OperationDTO, len(ops))
	for i, op := range ops {
		dtos[i] = toOperationDTO(op)
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: dtos})
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// ListRecords returns a page of the caller's active records.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), ledger.DefaultPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page parameter", err)
		return
	}
	perPage, err := intParam(q.Get("per_page"), ledger.DefaultPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid per_page parameter", err)
		return
	}

	result, err := h.Records.List(r.Context(), auth.PrincipalFromContext(r.Context()), records.ListQuery{
		Page:          page,
		PerPage:       perPage,
		OperationType: q.Get("operation_type"),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidPagination) {
			writeError(w, http.StatusBadRequest, "Invalid pagination parameters", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}

	writeJSON(w, http.StatusOK, RecordPageResponse{
		Data:         toRecordDTOs(result.Records),
		TotalRecords: result.Total,
	})
}

// CreateRecord runs an operation and debits its cost.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create record", err)
		return
	}

	rec, err := h.Records.Create(r.Context(), auth.PrincipalFromContext(r.Context()), records.CreateInput{
		OperationID: ledger.OperationID(req.OperationID),
		Num1:        string(req.Num1),
		Num2:        string(req.Num2),
	})
	if err != nil {
		if ledger.IsClientError(err) || errors.Is(err, calculator.ErrDivisionByZero) {
			writeError(w, http.StatusBadRequest, "Failed to create record", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create record", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageDataResponse{
		Message: "Record created successfully",
		Data:    toRecordDTO(rec),
	})
}

// GetRecord returns one of the caller's records, including soft-deleted ones.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	id, ok := recordID(rawID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Record %s not found", rawID), nil)
		return
	}

	rec, err := h.Records.Get(r.Context(), auth.PrincipalFromContext(r.Context()), id)
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Record %s not found", rawID), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: toRecordDTO(rec)})
}

// DeleteRecord soft-deletes one of the caller's records.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	id, ok := recordID(rawID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Record %s not found", rawID), nil)
		return
	}

	if err := h.Records.Delete(r.Context(), auth.PrincipalFromContext(r.Context()), id); err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Record %s not found", rawID), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete record", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Record %s was deleted successfully", rawID)})
}

// =============================================================================
// RANDOM STRING HANDLER
// =============================================================================

// RandomString proxies the random-string provider. numeric=true yields two
// 3-digit strings; anything else one 20-character alphanumeric string.
func (h *Handler) RandomString(w http.ResponseWriter, r *http.Request) {
	numeric, ok := r.URL.Query()["numeric"]
	if !ok || len(numeric) == 0 {
		writeError(w, http.StatusBadRequest, "Missing required parameter: numeric", nil)
		return
	}

	strs, err := h.Random.Generate(r.Context(), strings.EqualFold(numeric[0], "true"))
	if err != nil {
		var upstream *randomstring.UpstreamError
		if errors.As(err, &upstream) {
			writeError(w, upstream.StatusCode, "Failed to generate random strings", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to generate random strings", err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: strs})
}

// =============================================================================
// IDENTITY HANDLERS
// =============================================================================

// SignUp registers the user with the identity provider and opens a ledger
// account with the default balance.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Sign up failed", err)
		return
	}

	res, err := h.Identity.SignUp(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, identity.ErrUsernameExists):
		writeError(w, http.StatusBadRequest, "Username already exists", nil)
		return
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Sign up failed", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Sign up failed", err)
		return
	}

	if _, err := h.Records.RegisterUser(r.Context(), req.Username, res.UserSub); err != nil {
		if errors.Is(err, ledger.ErrUserExists) {
			writeError(w, http.StatusBadRequest, "Username already exists", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Sign up failed", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageDataResponse{Message: "Sign up successful", Data: res})
}

// SignIn authenticates and returns the access token with the ledger account.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Sign in failed", err)
		return
	}

	session, err := h.Identity.SignIn(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, identity.ErrNotAuthorized):
		writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
		return
	case errors.Is(err, identity.ErrUserNotConfirmed):
		writeError(w, http.StatusUnauthorized, "User is not confirmed. Please confirm your account.", nil)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Sign in failed", err)
		return
	}

	user, err := h.Records.UserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sign in failed", err)
		return
	}

	writeJSON(w, http.StatusOK, SignInResponse{
		Message:     "Sign in successful",
		AccessToken: session.AccessToken,
		User:        toUserDTO(user),
	})
}

// SignOut ends the provider session and denylists the token.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	var req SignOutRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Sign out failed", err)
		return
	}

	if err := h.Identity.SignOut(r.Context(), req.AccessToken); err != nil {
		writeError(w, http.StatusInternalServerError, "Sign out failed", err)
		return
	}
	if err := h.Gate.Revoke(r.Context(), req.AccessToken); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("revoking token")
		writeError(w, http.StatusInternalServerError, "Sign out failed", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Sign out successful"})
}

// Confirm completes a signup with the emailed code.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Confirmation failed", err)
		return
	}

	err := h.Identity.Confirm(r.Context(), req.Username, req.ConfirmationCode)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageResponse{Message: "User confirmed successfully. You can now sign in."})
	case errors.Is(err, identity.ErrUserNotFound):
		writeError(w, http.StatusBadRequest, "User not found.", nil)
	case errors.Is(err, identity.ErrCodeMismatch):
		writeError(w, http.StatusBadRequest, "Invalid confirmation code.", nil)
	case errors.Is(err, identity.ErrAlreadyConfirmed):
		writeError(w, http.StatusBadRequest, "User is already confirmed.", nil)
	default:
		writeError(w, http.StatusInternalServerError, "Confirmation failed", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return h.validate.Struct(dst)
}

// intParam parses an optional integer query parameter.
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func recordID(raw string) (ledger.RecordID, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ledger.RecordID(id), true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}
