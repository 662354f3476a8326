package router

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"ez-parking/internal/domain"
)

var (
	plateRe      = regexp.MustCompile(`^[A-Z0-9-]{2,16}$`)
	validateOnce sync.Once
)

// RegisterValidators 在 gin 的 validator 上登记自定义 tag，并用 json 名报错
func RegisterValidators() {
	validateOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
		_ = v.RegisterValidation("plate", func(fl validator.FieldLevel) bool {
			return plateRe.MatchString(domain.NormalizePlate(fl.Field().String()))
		})
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, err := time.Parse("15:04", fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("vehicle_size", func(fl validator.FieldLevel) bool {
			return domain.VehicleSize(fl.Field().String()).Valid()
		})
	})
}

// fieldErrors "Error on field X: msg"
func fieldErrors(ve validator.ValidationErrors) []string {
	out := make([]string, 0, len(ve))
	for _, fe := range ve {
		out = append(out, fmt.Sprintf("Error on field %s: %s", fe.Field(), fieldMsg(fe)))
	}
	return out
}

func fieldMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "uuid":
		return "must be a valid uuid"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "plate":
		return "must be a valid plate number"
	case "hhmm":
		return "must be HH:MM"
	case "vehicle_size":
		return "must be one of SMALL MEDIUM LARGE"
	}
	return "failed on " + fe.Tag()
}
