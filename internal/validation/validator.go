package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// msisdnPattern accepts an optional + and 9 to 15 digits, spaces and dashes allowed.
var msisdnPattern = regexp.MustCompile(`^\+?[0-9][0-9 -]{7,18}[0-9]$`)

// New returns a configured validator with the custom tags and struct-level
// validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("msisdn", validateMSISDN)
	v.RegisterStructValidation(addressStructValidation, AddressRequest{})

	return v
}

func validateMSISDN(fl validatorv10.FieldLevel) bool {
	s := fl.Field().String()
	if !msisdnPattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 9 && digits <= 15
}

// addressStructValidation rejects an update that changes nothing.
func addressStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(AddressRequest)
	if req.ShippingAddress == nil && req.BillingAddress == nil {
		sl.ReportError(req.ShippingAddress, "shipping_address", "ShippingAddress", "address_required", "")
	}
}
