package response

import (
	"net/http"

	"ez-parking/internal/apperr"
)

const CodeSuccess = "success"

type entry struct {
	Status int
	Msg    string
}

// kindTable 错误种类 -> HTTP 状态 + 默认提示，集中登记
var kindTable = map[apperr.Kind]entry{
	apperr.EmailNotFound:           {http.StatusNotFound, "Email not found."},
	apperr.UserNotFound:            {http.StatusNotFound, "User not found."},
	apperr.EstablishmentNotFound:   {http.StatusNotFound, "Establishment does not exist."},
	apperr.VehicleTypeNotFound:     {http.StatusNotFound, "Vehicle type does not exist."},
	apperr.TransactionNotFound:     {http.StatusNotFound, "Transaction not found."},
	apperr.BanNotFound:             {http.StatusNotFound, "No ban found."},
	apperr.NoSlotsForCode:          {http.StatusNotFound, "No slots found in the given slot code."},
	apperr.NoSlotsForEstablishment: {http.StatusNotFound, "No slots found in the given establishment."},
	apperr.NoSlotsForVehicleType:   {http.StatusNotFound, "No slots found in the given vehicle type."},
	apperr.RouteNotFound:           {http.StatusNotFound, "Not found."},

	apperr.MissingFields:            {http.StatusBadRequest, "Please provide all the required fields."},
	apperr.InvalidEmail:             {http.StatusBadRequest, "Invalid email address."},
	apperr.InvalidPhoneNumber:       {http.StatusBadRequest, "Invalid phone number."},
	apperr.EmailTaken:               {http.StatusBadRequest, "Email already taken."},
	apperr.PhoneNumberTaken:         {http.StatusBadRequest, "Phone number already taken."},
	apperr.PlateNumberTaken:         {http.StatusBadRequest, "Plate number already taken."},
	apperr.IncorrectOTP:             {http.StatusBadRequest, "Incorrect OTP."},
	apperr.ExpiredOTP:               {http.StatusBadRequest, "OTP has expired."},
	apperr.CSRFError:                {http.StatusBadRequest, "CSRF token missing or invalid."},
	apperr.InvalidQRContent:         {http.StatusBadRequest, "Invalid QR content."},
	apperr.InvalidTransactionStatus: {http.StatusBadRequest, "Invalid transaction status."},
	apperr.QRCodeExpired:            {http.StatusBadRequest, "The QR code has expired. Please refresh the transaction page."},
	apperr.SlotStatusTaken:          {http.StatusBadRequest, "Invalid slot status."},
	apperr.InvalidVerificationToken: {http.StatusBadRequest, "Invalid or expired verification token."},
	apperr.TypeError:                {http.StatusBadRequest, "Invalid field type."},
	apperr.ValidationError:          {http.StatusBadRequest, "Invalid request."},
	apperr.BodyTooLarge:             {http.StatusRequestEntityTooLarge, "Request body too large."},

	apperr.Unauthorized:             {http.StatusUnauthorized, "Unauthorized."},
	apperr.AccountNotVerified:       {http.StatusUnauthorized, "Account is not verified."},
	apperr.Forbidden:                {http.StatusForbidden, "Forbidden."},
	apperr.EstablishmentEditsDenied: {http.StatusForbidden, "Establishment edits not allowed."},
	apperr.PlateBanned:              {http.StatusForbidden, "This plate number is banned."},
	apperr.UserBanned:               {http.StatusForbidden, "This account is banned."},

	apperr.Conflict:        {http.StatusConflict, "Conflict."},
	apperr.TooManyRequests: {http.StatusTooManyRequests, "Too many requests."},

	apperr.ServerError:     {http.StatusInternalServerError, "A database error occurred. Please try again later."},
	apperr.UnexpectedError: {http.StatusInternalServerError, "An unexpected error occurred."},
	apperr.ServerBusy:      {http.StatusServiceUnavailable, "Server busy."},
	apperr.Timeout:         {http.StatusGatewayTimeout, "Request timed out."},
}

// Lookup 未登记的种类按 500 处理
func Lookup(k apperr.Kind) (status int, msg string) {
	if e, ok := kindTable[k]; ok {
		return e.Status, e.Msg
	}
	e := kindTable[apperr.UnexpectedError]
	return e.Status, e.Msg
}
