/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the wire contract clients already depend on
  (string money amounts, the nested "user_id" object, the
  "YYYY-MM-DD HH:MM:SS" date).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  decodeAndValidate before touching any field.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/calculator-engine/ledger"
)

// DateLayout is the record date format on the wire.
const DateLayout = "2006-01-02 15:04:05"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateRecordRequest runs an operation. num1 and num2 may be sent as JSON
// numbers or strings.
type CreateRecordRequest struct {
	OperationID int64      `json:"operation_id" validate:"required,gt=0"`
	Num1        FlexString `json:"num1" validate:"required"`
	Num2        FlexString `json:"num2"`
}

type CredentialsRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

type ConfirmRequest struct {
	Username         string `json:"username" validate:"required"`
	ConfirmationCode string `json:"confirmation_code" validate:"required"`
}

type SignOutRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// FlexString accepts a JSON string or number and keeps its literal text.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

type DataResponse struct {
	Data any `json:"data"`
}

type MessageDataResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type RecordPageResponse struct {
	Data         []RecordDTO `json:"data"`
	TotalRecords int         `json:"total_records"`
}

type SignInResponse struct {
	Message     string  `json:"message"`
	AccessToken string  `json:"access_token"`
	User        UserDTO `json:"user"`
}

// OperationDTO represents an operation. ID is omitted when nested in a record.
type OperationDTO struct {
	ID           int64  `json:"id,omitempty"`
	Type         string `json:"type"`
	Cost         string `json:"cost"`
	Symbol       string `json:"symbol"`
	IsArithmetic bool   `json:"is_arithmetic"`
}

type UserDTO struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Status        bool   `json:"status"`
	Balance       string `json:"balance"`
	CognitoUserID string `json:"cognito_user_id"`
}

// RecordDTO represents a record. The owning user is serialized under
// "user_id" for compatibility with existing clients.
type RecordDTO struct {
	ID                int64        `json:"id"`
	Operation         OperationDTO `json:"operation"`
	User              UserDTO      `json:"user_id"`
	Amount            string       `json:"amount"`
	UserBalance       string       `json:"user_balance"`
	OperationResponse string       `json:"operation_response"`
	Date              string       `json:"date"`
	Active            bool         `json:"active"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toOperationDTO(op ledger.Operation) OperationDTO {
	return OperationDTO{
		ID:           int64(op.ID),
		Type:         op.Type,
		Cost:         ledger.FormatMoney(op.Cost),
		Symbol:       op.Symbol,
		IsArithmetic: op.IsArithmetic,
	}
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:            int64(u.ID),
		Username:      u.Username,
		Status:        u.Status,
		Balance:       ledger.FormatMoney(u.Balance),
		CognitoUserID: u.ExternalID,
	}
}

func toRecordDTO(r ledger.Record) RecordDTO {
	dto := RecordDTO{
		ID:                int64(r.ID),
		Amount:            ledger.FormatMoney(r.Amount),
		UserBalance:       ledger.FormatMoney(r.UserBalance),
		OperationResponse: r.OperationResponse,
		Date:              r.Date.UTC().Format(DateLayout),
		Active:            r.Active,
	}
	if r.Operation != nil {
		dto.Operation = toOperationDTO(*r.Operation)
		dto.Operation.ID = 0
	}
	if r.User != nil {
		dto.User = toUserDTO(*r.User)
	}
	return dto
}

func toRecordDTOs(recs []ledger.Record) []RecordDTO {
	dtos := make([]RecordDTO, len(recs))
	for i, r := range recs {
		dtos[i] = toRecordDTO(r)
	}
	return dtos
}
