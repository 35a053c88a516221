package models

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Error is the JSON body returned for fatal request failures.
type Error struct {
	Code    string `json:"code" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// Validate requires both fields.
func (e Error) Validate() error {
	return check(e)
}

// FieldError describes a single invalid DTO field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every failing field of a DTO.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// maskedCard matches card numbers where only the last four digits are visible.
var maskedCard = regexp.MustCompile(`^(\*{4} ){3}\d{4}$`)

// PaymentMethod is a stored card. CardNumber arrives already masked.
type PaymentMethod struct {
	CardNumber  string `json:"cardNumber" validate:"required,maskedcard"`
	ExpireMonth int    `json:"expireMonth" validate:"min=1,max=12"`
	ExpireYear  int    `json:"expireYear" validate:"gt=0"`
	CardHolder  string `json:"cardHolder" validate:"notblank"`
}

func (p PaymentMethod) Validate() error {
	return check(p)
}

// CartBody is the payload for adding one product to the cart.
type CartBody struct {
	SongID   int `json:"songId,omitempty" validate:"gte=0"`
	AlbumID  int `json:"albumId,omitempty" validate:"gte=0"`
	MerchID  int `json:"merchId,omitempty" validate:"gte=0"`
	Unidades int `json:"unidades" validate:"min=1"`
}

// NewCartBody returns a body with the default quantity of one.
func NewCartBody() CartBody {
	return CartBody{Unidades: 1}
}

// Kind reports which product the body refers to. It is zero unless exactly
// one identifier is set.
func (c CartBody) Kind() ProductKind {
	var kind ProductKind
	set := 0
	if c.SongID != 0 {
		kind, set = KindSong, set+1
	}
	if c.AlbumID != 0 {
		kind, set = KindAlbum, set+1
	}
	if c.MerchID != 0 {
		kind, set = KindMerch, set+1
	}
	if set != 1 {
		return 0
	}
	return kind
}

func (c CartBody) Validate() error {
	return check(c)
}

// cartBodyRules checks what the field tags cannot: exactly one identifier,
// and quantities above one only for merch.
func cartBodyRules(sl validator.StructLevel) {
	c := sl.Current().Interface().(CartBody)
	kind := c.Kind()
	if kind == 0 {
		sl.ReportError(c.SongID, "id", "SongID", "oneid", "")
		return
	}
	if c.Unidades > 1 && kind != KindMerch {
		sl.ReportError(c.Unidades, "unidades", "Unidades", "merchonly", kind.String())
	}
}

// Purchase records a completed order.
type Purchase struct {
	PurchasePrice   float64   `json:"purchasePrice" validate:"gte=0"`
	PurchaseDate    time.Time `json:"purchaseDate" validate:"required"`
	PaymentMethodID int       `json:"paymentMethodId" validate:"gt=0"`
	SongIDs         []int     `json:"songIds"`
	AlbumIDs        []int     `json:"albumIds"`
	MerchIDs        []int     `json:"merchIds"`
}

func (p Purchase) Validate() error {
	return check(p)
}

func purchaseRules(sl validator.StructLevel) {
	p := sl.Current().Interface().(Purchase)
	if len(p.SongIDs)+len(p.AlbumIDs)+len(p.MerchIDs) == 0 {
		sl.ReportError(p.SongIDs, "items", "SongIDs", "oneitem", "")
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(v.RegisterValidation("maskedcard", func(fl validator.FieldLevel) bool {
		return maskedCard.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}))

	v.RegisterStructValidation(cartBodyRules, CartBody{})
	v.RegisterStructValidation(purchaseRules, Purchase{})
	return v
}

// check runs the tag and struct rules and flattens failures into
// ValidationErrors keyed by JSON field name.
func check(dto any) error {
	err := validate.Struct(dto)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	errs := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, FieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "must not be empty"
	case "maskedcard":
		return "must be masked as **** **** **** 1234"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must not be less than " + fe.Param()
	case "oneid":
		return "exactly one of songId, albumId or merchId is required"
	case "merchonly":
		return fmt.Sprintf("a %s can only be added once", fe.Param())
	case "oneitem":
		return "a purchase needs at least one product"
	}
	return "failed " + fe.Tag()
}
