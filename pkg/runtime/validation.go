package runtime

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

type ValidateNameFunc func(name string) error

// ValidateNodeName rejects names that cannot be used as an OPC-UA string
// node identifier.
func ValidateNodeName(name string) error {
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("must not have leading or trailing spaces")
	}
	if strings.ContainsAny(name, "/\\;") {
		return fmt.Errorf("must not contain '/', '\\' or ';'")
	}
	return nil
}

func ValidateName(path *field.Path, name string, nameFn ValidateNameFunc) field.ErrorList {
	var allErrs field.ErrorList
	if len(name) == 0 {
		allErrs = append(allErrs, field.Required(path, ""))
	} else if err := nameFn(name); err != nil {
		allErrs = append(allErrs, field.Invalid(path, name, err.Error()))
	}
	return allErrs
}
