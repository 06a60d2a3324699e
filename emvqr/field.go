package emvqr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Top-level tags in the order mandated by the merchant-presented QR standard.
const (
	TagPayloadFormat     = "00"
	TagPointOfInitiation = "01"
	TagMerchantAccount   = "29"
	TagCategoryCode      = "52"
	TagCurrency          = "53"
	TagAmount            = "54"
	TagCountryCode       = "58"
	TagMerchantName      = "59"
	TagMerchantCity      = "60"
	TagAdditionalData    = "62"
	TagCRC               = "63"
	TagTimestamp         = "99"
)

// Sub-tags of the nested merchant account, additional data and timestamp blocks.
const (
	SubTagBankAccount   = "00"
	SubTagBillNumber    = "01"
	SubTagMobileNumber  = "02"
	SubTagStoreLabel    = "03"
	SubTagTerminalLabel = "07"
	SubTagLanguage      = "00"
)

const (
	PayloadFormatValue = "01"
	InitiationStatic   = "11"
	InitiationDynamic  = "12"
)

var (
	ErrValueTooLong        = errors.New("value too long")
	ErrEmptyRequiredValue  = errors.New("empty required value")
	ErrInvalidValue        = errors.New("invalid value")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrAmountRequired      = errors.New("amount required for dynamic payload")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// FieldError reports which field of the payload failed validation.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

type fieldSpec struct {
	tag      string
	name     string
	max      int
	required bool
}

// One shared definition table instead of a type per field.
var (
	specBankAccount   = fieldSpec{SubTagBankAccount, "bank account", 32, true}
	specMerchantName  = fieldSpec{TagMerchantName, "merchant name", 25, true}
	specMerchantCity  = fieldSpec{TagMerchantCity, "merchant city", 15, true}
	specAmount        = fieldSpec{TagAmount, "amount", 13, false}
	specBillNumber    = fieldSpec{SubTagBillNumber, "bill number", 25, false}
	specMobileNumber  = fieldSpec{SubTagMobileNumber, "mobile number", 25, false}
	specStoreLabel    = fieldSpec{SubTagStoreLabel, "store label", 25, false}
	specTerminalLabel = fieldSpec{SubTagTerminalLabel, "terminal label", 25, false}
)

// EncodeField renders one tag-length-value field: the two-character tag, the
// value length as two decimal digits, then the value itself.
func EncodeField(tag, value string) (string, error) {
	if len(value) > 99 {
		return "", &FieldError{Field: tag, Err: ErrValueTooLong}
	}
	return fmt.Sprintf("%s%02d%s", tag, len(value), value), nil
}

func encodeSpec(spec fieldSpec, value string) (string, error) {
	if value == "" {
		if spec.required {
			return "", &FieldError{Field: spec.name, Err: ErrEmptyRequiredValue}
		}
		return "", nil
	}
	if len(value) > spec.max {
		return "", &FieldError{Field: spec.name, Err: ErrValueTooLong}
	}
	return EncodeField(spec.tag, value)
}

// Field is one decoded tag-length-value unit.
type Field struct {
	Tag   string
	Value string
}

// DecodeFields walks the payload two bytes of tag, two bytes of length and
// the declared number of value bytes at a time until the input is exhausted.
func DecodeFields(payload string) ([]Field, error) {
	var fields []Field
	i := 0
	for i < len(payload) {
		if i+4 > len(payload) {
			return nil, ErrMalformedPayload
		}
		tag := payload[i : i+2]
		length, err := strconv.Atoi(payload[i+2 : i+4])
		if err != nil || length < 0 {
			return nil, ErrMalformedPayload
		}
		end := i + 4 + length
		if end > len(payload) {
			return nil, ErrMalformedPayload
		}
		fields = append(fields, Field{Tag: tag, Value: payload[i+4 : end]})
		i = end
	}
	return fields, nil
}

// CurrencyCode maps a 3-letter currency to its ISO numeric code. Only the two
// currencies accepted by the settlement provider are supported; the match is
// case-insensitive.
func CurrencyCode(currency string) (string, error) {
	switch strings.ToUpper(currency) {
	case "USD":
		return "840", nil
	case "KHR":
		return "116", nil
	}
	return "", &FieldError{Field: "currency", Err: ErrUnsupportedCurrency}
}
