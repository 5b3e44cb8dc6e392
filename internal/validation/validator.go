package validation

import (
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// New returns a configured validator with the custom tags and struct-level
// rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their wire names
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

	// "required" accepts "   "; notblank does not.
	_ = v.RegisterValidation("notblank", validators.NotBlank)

	// register struct-level validation for CreateOrderRequest to ensure
	// every product appears on at most one line.
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation reports a product repeated across order lines.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[string]struct{}, len(req.OrderItems))
	for i, it := range req.OrderItems {
		if _, dup := seen[it.ProductID]; dup {
			sl.ReportError(it.ProductID, fmt.Sprintf("orderItems[%d].productId", i), "ProductID", "unique_product", "")
			return
		}
		seen[it.ProductID] = struct{}{}
	}
}
