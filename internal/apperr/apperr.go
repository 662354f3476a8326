// Package apperr 业务错误种类。领域层只返回这些错误，HTTP 层统一翻译为状态码 + code + message。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 即对外的机器可读 code
type Kind string

const (
	// 404
	EmailNotFound                 Kind = "email_not_found"
	UserNotFound                  Kind = "user_not_found"
	EstablishmentNotFound         Kind = "establishment_does_not_exist"
	VehicleTypeNotFound           Kind = "vehicle_type_does_not_exist"
	TransactionNotFound           Kind = "transaction_not_found"
	BanNotFound                   Kind = "ban_not_found"
	NoSlotsForCode                Kind = "no_slots_found_in_the_given_slot_code"
	NoSlotsForEstablishment       Kind = "no_slots_found_in_the_given_establishment"
	NoSlotsForVehicleType         Kind = "no_slots_found_in_the_given_vehicle_type"
	RouteNotFound                 Kind = "not_found"

	// 400
	MissingFields            Kind = "missing_fields"
	InvalidEmail             Kind = "invalid_email"
	InvalidPhoneNumber       Kind = "invalid_phone_number"
	EmailTaken               Kind = "email_already_taken"
	PhoneNumberTaken         Kind = "phone_number_already_taken"
	PlateNumberTaken         Kind = "plate_number_already_taken"
	IncorrectOTP             Kind = "incorrect_otp"
	ExpiredOTP               Kind = "expired_otp"
	CSRFError                Kind = "csrf_error"
	InvalidQRContent         Kind = "invalid_qr_content"
	InvalidTransactionStatus Kind = "invalid_transaction_status"
	QRCodeExpired            Kind = "qr_code_expired"
	SlotStatusTaken          Kind = "slot_status_taken"
	InvalidVerificationToken Kind = "invalid_verification_token"
	TypeError                Kind = "type_error"
	ValidationError          Kind = "validation_error"
	BodyTooLarge             Kind = "request_body_too_large"

	// 401 / 403
	Unauthorized             Kind = "unauthorized"
	AccountNotVerified       Kind = "account_is_not_verified"
	Forbidden                Kind = "forbidden"
	EstablishmentEditsDenied Kind = "establishment_edits_not_allowed"
	PlateBanned              Kind = "plate_banned"
	UserBanned               Kind = "user_banned"

	// 409 / 429
	Conflict        Kind = "conflict"
	TooManyRequests Kind = "too_many_requests"

	// 5xx
	ServerError     Kind = "server_error"
	UnexpectedError Kind = "unexpected_error"
	ServerBusy      Kind = "server_busy"
	Timeout         Kind = "timeout"
)

type Error struct {
	Kind   Kind
	Msg    string
	Fields []string // validation_error 专用
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return string(e.Kind) + ": " + e.Msg
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, msg string) error { return &Error{Kind: k, Msg: msg} }

func Wrap(k Kind, msg string, err error) error { return &Error{Kind: k, Msg: msg, Err: err} }

// DB 存储层错误，对外只暴露 server_error
func DB(err error) error { return &Error{Kind: ServerError, Err: err} }

func Validation(fields []string) error {
	return &Error{Kind: ValidationError, Msg: "Invalid request.", Fields: fields}
}

// As 取出 *Error；非业务错误返回 nil
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf 非业务错误一律视为 unexpected_error
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e := As(err); e != nil {
		return e.Kind
	}
	return UnexpectedError
}

func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }
