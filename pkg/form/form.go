// Package form defines the fixed-schema form data that a voice session fills.
//
// A [Data] value holds exactly the keys of its [Schema]; values are optional
// strings. Keys are never added or removed after construction, only their
// values updated through [Data.Merge].
package form

import (
	"bytes"
	"encoding/json"
	"maps"
	"strings"
	"sync"
)

// Schema is the ordered list of field names a form accepts.
type Schema []string

// Has reports whether name is a field of the schema.
func (s Schema) Has(name string) bool {
	for _, f := range s {
		if f == name {
			return true
		}
	}
	return false
}

// DefaultSchema lists the fields of the merchant processing application.
var DefaultSchema = Schema{
	"SiteCompanyName1", "SiteAddress", "SiteCity", "SiteState", "SiteZip",
	"SiteVoice", "SiteFax",
	"CorporateCompanyName1", "CorporateAddress", "CorporateCity", "CorporateState",
	"CorporateZip", "CorporateName",
	"SiteEmail", "CorporateVoice", "CorporateFax", "BusinessWebsite",
	"CorporateEmail", "CustomerSvcEmail",
	"AppRetrievalMail", "AppRetrievalFax", "AppRetrievalFaxNumber", "MCC-Desc",
	"MerchantInitials1", "MerchantInitials2", "MerchantInitials3", "MerchantInitials4",
	"MerchantInitials5", "MerchantInitials6", "MerchantInitials7",
	"signer1signature1", "Owner0Name1", "Owner0LastName1",
	"signer1signature2", "Owner0Name2", "Owner0LastName2",
}

// IsUnset applies the canonical unset rule: a value is unset if it is empty
// or the literal text "null" in any letter case.
func IsUnset(v string) bool {
	t := strings.TrimSpace(v)
	return t == "" || strings.EqualFold(t, "null")
}

// Data is a concurrency-safe mapping from schema fields to optional values.
type Data struct {
	schema Schema

	mu     sync.RWMutex
	values map[string]string
}

// New returns form data for schema with every field unset.
func New(schema Schema) *Data {
	s := make(Schema, len(schema))
	copy(s, schema)
	return &Data{schema: s, values: make(map[string]string)}
}

// Schema returns the field list.
func (d *Data) Schema() Schema { return d.schema }

// Merge applies partial with last-write-wins semantics and returns the fields
// it updated, in schema order. Keys outside the schema are dropped.
func (d *Data) Merge(partial map[string]string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var updated []string
	for _, f := range d.schema {
		v, ok := partial[f]
		if !ok {
			continue
		}
		d.values[f] = v
		updated = append(updated, f)
	}
	return updated
}

// Get returns the value of field and whether it is set under the unset rule.
func (d *Data) Get(field string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[field]
	if !ok || IsUnset(v) {
		return "", false
	}
	return v, true
}

// Snapshot returns a copy of every stored value, including ones that are
// unset under the unset rule.
func (d *Data) Snapshot() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.values)
}

// Filled returns only the fields whose values are set.
func (d *Data) Filled() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range d.values {
		if !IsUnset(v) {
			out[k] = v
		}
	}
	return out
}

// MarshalJSON encodes every schema field in schema order. Unset fields are
// encoded as null, so equal data always produces identical bytes.
func (d *Data) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.schema {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, ok := d.values[f]
		if !ok || IsUnset(v) {
			buf.WriteString("null")
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON loads values for known fields; null values stay unset. A zero
// Data uses [DefaultSchema].
func (d *Data) UnmarshalJSON(b []byte) error {
	var raw map[string]*string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]string)
	}
	if d.schema == nil {
		d.schema = DefaultSchema
	}
	for k, v := range raw {
		if v == nil || !d.schema.Has(k) {
			continue
		}
		d.values[k] = *v
	}
	return nil
}
