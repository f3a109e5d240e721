package conversation

import (
	"strings"

	"clubtreasurer/internal/config"
)

// Defaults are the organisation values pre-filled into every new session.
// They count as collected but never as user progress. A Defaults value is
// immutable once built; accessors return copies.
type Defaults struct {
	fields  map[string]any
	contact string
	club    string
}

// NewDefaults derives the pre-filled fields from the org config.
func NewDefaults(org config.Org) Defaults {
	f := map[string]any{}
	set := func(v string, keys ...string) {
		if strings.TrimSpace(v) == "" {
			return
		}
		for _, k := range keys {
			f[k] = v
		}
	}
	set(org.ClubName, "club_name", "initiating_club_name")
	set(org.ContactEmail, "treasurer_email", "club_treasurer_email", "email")
	set(org.Location, "location")
	set(org.PaymentType, "payment_type")
	set(org.InvoiceType, "invoice_type")
	set(org.Currency, "currency", "invoice_currency", "transfer_amount_currency")
	f["charge_allocation_percentage"] = 100
	return Defaults{fields: f, contact: org.ContactEmail, club: org.ClubName}
}

// DefaultsFrom builds Defaults from an explicit field map.
func DefaultsFrom(fields map[string]any, contactEmail string) Defaults {
	f := make(map[string]any, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	club, _ := f["club_name"].(string)
	return Defaults{fields: f, contact: contactEmail, club: club}
}

// Fields returns a fresh copy of the default fields.
func (d Defaults) Fields() map[string]any {
	out := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		out[k] = v
	}
	return out
}

// Has reports whether key is one of the pre-filled fields.
func (d Defaults) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// ContactEmail is the treasurer address given to members who lack details.
func (d Defaults) ContactEmail() string { return d.contact }

// ClubName is the club named in greetings and prompts.
func (d Defaults) ClubName() string { return d.club }
