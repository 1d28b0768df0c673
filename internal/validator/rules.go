package validator

import (
	"log"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	gateCodePattern   = regexp.MustCompile(`^[A-Za-z0-9]{5}$`)
	phonePattern      = regexp.MustCompile(`^\+?[0-9 ()\-]{7,20}$`)
	moduleCodePattern = regexp.MustCompile(`^[A-Za-z]{2,6}[ -]?[0-9]{2,6}[A-Za-z]?$`)
)

// registerCustomRules регистрирует кастомные функции валидации.
func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	// 'gatecode': 5 alphanumeric characters, case-insensitive
	mustRegister("gatecode", matches(gateCodePattern))

	// 'phone': digits with optional +, spaces, dashes and parentheses
	mustRegister("phone", matches(phonePattern))

	// 'modulecode': university module codes such as CS101, MATH 2040, BUS-301A
	mustRegister("modulecode", matches(moduleCodePattern))
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == "" {
			return true // пустые значения обрабатывает 'required'
		}
		return re.MatchString(value)
	}
}
