package validation

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	digitsOnly = regexp.MustCompile(`^\d+$`)
	orderIDRe  = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
)

// New returns a configured validator with the checkout field validations registered.
// Field names in errors follow the JSON tags so the browser can highlight the input.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("cardnumber", func(fl validatorv10.FieldLevel) bool {
		return validCardNumber(fl.Field().String())
	})
	_ = v.RegisterValidation("cvv", func(fl validatorv10.FieldLevel) bool {
		s := fl.Field().String()
		return digitsOnly.MatchString(s) && (len(s) == 3 || len(s) == 4)
	})
	_ = v.RegisterValidation("expmonth", func(fl validatorv10.FieldLevel) bool {
		_, ok := parseMonth(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("expyear", func(fl validatorv10.FieldLevel) bool {
		_, ok := normalizeYear(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("amount", func(fl validatorv10.FieldLevel) bool {
		_, ok := parseAmount(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("orderid", func(fl validatorv10.FieldLevel) bool {
		return orderIDRe.MatchString(fl.Field().String())
	})

	return v
}

// validCardNumber requires 15 or 16 digits and a valid Luhn checksum.
func validCardNumber(s string) bool {
	if !digitsOnly.MatchString(s) || (len(s) != 15 && len(s) != 16) {
		return false
	}
	return luhn(s)
}

func luhn(s string) bool {
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func parseMonth(s string) (int, bool) {
	if !digitsOnly.MatchString(s) || len(s) > 2 {
		return 0, false
	}
	m, err := strconv.Atoi(s)
	if err != nil || m < 1 || m > 12 {
		return 0, false
	}
	return m, true
}

// normalizeYear turns "27" or "2027" into 2027.
func normalizeYear(s string) (int, bool) {
	if !digitsOnly.MatchString(s) {
		return 0, false
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	switch len(s) {
	case 2:
		return 2000 + y, true
	case 4:
		if y < 2000 || y > 2099 {
			return 0, false
		}
		return y, true
	default:
		return 0, false
	}
}

// parseAmount accepts positive decimals with at most two significant fractional digits.
func parseAmount(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if !d.IsPositive() || !d.Equal(d.Round(2)) {
		return decimal.Decimal{}, false
	}
	return d, true
}

// FormatAmount renders an amount with exactly two fractional digits and a leading zero ("0.50").
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
