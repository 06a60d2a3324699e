package emvqr

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Options describes one payload to build. A dynamic payload carries the
// amount of a single transaction; a static one is reusable and omits it.
type Options struct {
	BankAccount   string
	MerchantName  string
	MerchantCity  string
	CategoryCode  string
	CountryCode   string
	Currency      string
	Amount        float64
	Dynamic       bool
	BillNumber    string
	MobileNumber  string
	StoreLabel    string
	TerminalLabel string
}

// Payload is a finished, checksummed QR string. It is immutable: the checksum
// covers every byte before it, so no field can change after construction.
type Payload struct {
	value       string
	fingerprint string
}

func (p *Payload) String() string {
	return p.value
}

// Fingerprint is the content digest used as the settlement lookup key.
func (p *Payload) Fingerprint() string {
	return p.fingerprint
}

// Build encodes the payload with the current time in its timestamp field.
func Build(opts Options) (*Payload, error) {
	return BuildAt(opts, time.Now())
}

// BuildAt encodes the payload fields in the order the standard mandates and
// appends the CRC last. Any field failure aborts with no partial result.
func BuildAt(opts Options, at time.Time) (*Payload, error) {
	var sb strings.Builder

	format, err := EncodeField(TagPayloadFormat, PayloadFormatValue)
	if err != nil {
		return nil, err
	}
	sb.WriteString(format)

	initiation := InitiationStatic
	if opts.Dynamic {
		initiation = InitiationDynamic
	}
	method, err := EncodeField(TagPointOfInitiation, initiation)
	if err != nil {
		return nil, err
	}
	sb.WriteString(method)

	account, err := encodeSpec(specBankAccount, opts.BankAccount)
	if err != nil {
		return nil, err
	}
	merchantInfo, err := EncodeField(TagMerchantAccount, account)
	if err != nil {
		return nil, err
	}
	sb.WriteString(merchantInfo)

	category, err := encodeCategoryCode(opts.CategoryCode)
	if err != nil {
		return nil, err
	}
	sb.WriteString(category)

	country := opts.CountryCode
	if country == "" {
		country = "KH"
	}
	if len(country) != 2 {
		return nil, &FieldError{Field: "country code", Err: ErrInvalidValue}
	}
	countryField, err := EncodeField(TagCountryCode, country)
	if err != nil {
		return nil, err
	}
	sb.WriteString(countryField)

	name, err := encodeSpec(specMerchantName, opts.MerchantName)
	if err != nil {
		return nil, err
	}
	sb.WriteString(name)

	city := opts.MerchantCity
	if city == "" {
		city = "Phnom Penh"
	}
	cityField, err := encodeSpec(specMerchantCity, city)
	if err != nil {
		return nil, err
	}
	sb.WriteString(cityField)

	timestamp, err := encodeTimestamp(at)
	if err != nil {
		return nil, err
	}
	sb.WriteString(timestamp)

	if opts.Dynamic {
		amount, err := encodeAmount(opts.Amount)
		if err != nil {
			return nil, err
		}
		sb.WriteString(amount)
	}

	currency, err := CurrencyCode(opts.Currency)
	if err != nil {
		return nil, err
	}
	currencyField, err := EncodeField(TagCurrency, currency)
	if err != nil {
		return nil, err
	}
	sb.WriteString(currencyField)

	additional, err := encodeAdditionalData(opts)
	if err != nil {
		return nil, err
	}
	sb.WriteString(additional)

	// the CRC covers everything built so far plus its own tag and length
	data := sb.String() + TagCRC + "04"
	value := data + Checksum(data)

	return &Payload{
		value:       value,
		fingerprint: Fingerprint(value),
	}, nil
}

func encodeCategoryCode(code string) (string, error) {
	if code == "" {
		code = "5999"
	}
	if len(code) < 4 {
		return "", &FieldError{Field: "category code", Err: ErrInvalidValue}
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return "", &FieldError{Field: "category code", Err: ErrInvalidValue}
		}
	}
	return EncodeField(TagCategoryCode, code)
}

func encodeAmount(amount float64) (string, error) {
	if amount <= 0 {
		return "", &FieldError{Field: "amount", Err: ErrAmountRequired}
	}
	// decimal rendering drops a trailing zero fraction: 250.00 becomes "250"
	value := decimal.NewFromFloat(amount).String()
	return encodeSpec(specAmount, value)
}

func encodeTimestamp(at time.Time) (string, error) {
	millis := strconv.FormatInt(at.UnixMilli(), 10)
	inner, err := EncodeField(SubTagLanguage, millis)
	if err != nil {
		return "", err
	}
	return EncodeField(TagTimestamp, inner)
}

func encodeAdditionalData(opts Options) (string, error) {
	var sb strings.Builder
	for _, part := range []struct {
		spec  fieldSpec
		value string
	}{
		{specBillNumber, opts.BillNumber},
		{specMobileNumber, opts.MobileNumber},
		{specStoreLabel, opts.StoreLabel},
		{specTerminalLabel, opts.TerminalLabel},
	} {
		encoded, err := encodeSpec(part.spec, part.value)
		if err != nil {
			return "", err
		}
		sb.WriteString(encoded)
	}
	if sb.Len() == 0 {
		return "", nil
	}
	return EncodeField(TagAdditionalData, sb.String())
}
