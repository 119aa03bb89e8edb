package workflow

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var ErrValidationFailed = errors.New("validation failed")

// ValidationError lists the fields that block a step. It matches
// ErrValidationFailed with errors.Is.
type ValidationError struct {
	Step   Step              `json:"step"`
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidationFailed, e.Step, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

type fieldErrors map[string]string

func (f fieldErrors) required(name, value string) {
	if strings.TrimSpace(value) == "" {
		f[name] = "is required"
	}
}

func (f fieldErrors) err(step Step) error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Step: step, Fields: f}
}

// Postcode patterns per ISO country code, matched against the upper-cased,
// trimmed input.
var postcodePatterns = map[string]*regexp.Regexp{
	"GB": regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]? ?[0-9][A-Z]{2}$`),
	"US": regexp.MustCompile(`^[0-9]{5}(-[0-9]{4})?$`),
	"CA": regexp.MustCompile(`^[A-Z][0-9][A-Z] ?[0-9][A-Z][0-9]$`),
	"DE": regexp.MustCompile(`^[0-9]{5}$`),
	"FR": regexp.MustCompile(`^[0-9]{5}$`),
	"NL": regexp.MustCompile(`^[1-9][0-9]{3} ?[A-Z]{2}$`),
	"AU": regexp.MustCompile(`^[0-9]{4}$`),
	"IE": regexp.MustCompile(`^([A-Z][0-9]{2}|D6W) ?[0-9A-Z]{4}$`),
}

// SupportedLocales lists the locales with a postcode rule.
func SupportedLocales() []string {
	out := make([]string, 0, len(postcodePatterns))
	for k := range postcodePatterns {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ValidPostcode checks code against locale's pattern. Locales without a rule
// only require a non-empty value.
func ValidPostcode(locale, code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	re, ok := postcodePatterns[strings.ToUpper(locale)]
	if !ok {
		return true
	}
	return re.MatchString(code)
}

// ValidEmail accepts a bare RFC 5322 address with a dotted domain.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// Rules holds the inputs gate checks need besides the draft itself.
type Rules struct {
	DefaultLocale string
	Today         civil.Date
}

func validateSelection(sel SlotSelection) error {
	f := fieldErrors{}
	if sel.Slot == nil {
		f["slot"] = "is required"
	} else if err := sel.Slot.Validate(); err != nil {
		f["slot"] = err.Error()
	}
	f.required("service", sel.Service)
	f.required("location", sel.Location)
	return f.err(SelectingSlot)
}

var sexAtBirth = map[string]bool{"female": true, "male": true, "intersex": true, "not_stated": true}

func validateClient(c ClientDetails, r Rules) error {
	f := fieldErrors{}
	f.required("full_name", c.FullName)
	switch {
	case c.DateOfBirth == nil || *c.DateOfBirth == civil.Date{}:
		f["date_of_birth"] = "is required"
	case !c.DateOfBirth.IsValid():
		f["date_of_birth"] = "is not a valid date"
	case r.Today.IsValid() && c.DateOfBirth.After(r.Today):
		f["date_of_birth"] = "cannot be in the future"
	}
	switch sex := strings.ToLower(strings.TrimSpace(c.SexAtBirth)); {
	case sex == "":
		f["sex_at_birth"] = "is required"
	case !sexAtBirth[sex]:
		f["sex_at_birth"] = "must be one of female, male, intersex, not_stated"
	}
	if strings.TrimSpace(c.Email) == "" {
		f["email"] = "is required"
	} else if !ValidEmail(c.Email) {
		f["email"] = "is not a valid email address"
	}
	f.required("phone", c.Phone)
	return f.err(EnteringClientDetails)
}

func validateAddress(a Address, r Rules) error {
	f := fieldErrors{}
	f.required("street", a.Street)
	f.required("city", a.City)
	locale := a.Locale
	if locale == "" {
		locale = r.DefaultLocale
	}
	if strings.TrimSpace(a.Postcode) == "" {
		f["postcode"] = "is required"
	} else if !ValidPostcode(locale, a.Postcode) {
		f["postcode"] = fmt.Sprintf("is not a valid %s postcode", strings.ToUpper(locale))
	}
	return f.err(EnteringAddress)
}

// gate runs the check that guards leaving step.
func gate(d Draft, step Step, r Rules) error {
	switch step {
	case SelectingSlot:
		return validateSelection(d.Selection)
	case EnteringClientDetails:
		return validateClient(d.Client, r)
	case EnteringAddress:
		return validateAddress(d.Address, r)
	}
	return nil
}

// Advance moves one step forward when the current step's gate passes. The
// last step is left through Workflow.Commit, never Advance.
func (d Draft) Advance(r Rules, now time.Time) (Draft, error) {
	switch d.Step {
	case Confirmed:
		return d, ErrDraftClosed
	case EnteringAddress:
		return d, fmt.Errorf("%w: the address step is completed by commit", ErrInvalidStep)
	}
	if err := gate(d, d.Step, r); err != nil {
		return d, err
	}
	next := d.clone()
	next.Step = d.Step + 1
	next.Notice = ""
	next.UpdatedAt = now
	return next, nil
}

// ValidateAll re-checks every gate up to and including the current step.
func (d Draft) ValidateAll(r Rules) error {
	last := d.Step
	if last > EnteringAddress {
		last = EnteringAddress
	}
	for s := SelectingSlot; s <= last; s++ {
		if err := gate(d, s, r); err != nil {
			return err
		}
	}
	return nil
}
