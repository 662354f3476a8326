package response

import "ez-parking/internal/apperr"

type Resp struct {
	Code             string      `json:"code"`
	Message          string      `json:"message"`
	Data             interface{} `json:"data"`
	ValidationErrors []string    `json:"validation_errors,omitempty"`
}

// New 保证 data 不为 null
func New(code, msg string, data interface{}) Resp {
	if data == nil {
		data = struct{}{}
	}
	return Resp{Code: code, Message: msg, Data: data}
}

func OK(msg string, data interface{}) Resp { return New(CodeSuccess, msg, data) }

// Error 按种类取默认提示，可用 customMsg 覆盖
func Error(k apperr.Kind, customMsg string) Resp {
	_, msg := Lookup(k)
	if customMsg != "" {
		msg = customMsg
	}
	return New(string(k), msg, nil)
}

// FromError 业务错误 -> (HTTP 状态, 响应体)。
// server_error / unexpected_error 不透出内部信息。
func FromError(err error) (int, Resp) {
	e := apperr.As(err)
	if e == nil {
		status, _ := Lookup(apperr.UnexpectedError)
		return status, Error(apperr.UnexpectedError, "")
	}
	status, _ := Lookup(e.Kind)
	msg := e.Msg
	if status >= 500 {
		msg = ""
	}
	r := Error(e.Kind, msg)
	r.ValidationErrors = e.Fields
	return status, r
}
