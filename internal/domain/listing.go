package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field is a canonical record field name. Site vocabularies are mapped onto these
// names by the FieldMapper collaborator.
type Field string

// Canonical listing fields
const (
	FieldMake                Field = "make"
	FieldModel               Field = "model"
	FieldVariant             Field = "variant"
	FieldFullName            Field = "full_name"
	FieldPrice               Field = "price"
	FieldYear                Field = "year"
	FieldFirstRegistration   Field = "first_registration"
	FieldMileage             Field = "mileage_km"
	FieldCondition           Field = "condition"
	FieldFuelType            Field = "fuel_type"
	FieldPowerKW             Field = "power_kw"
	FieldPowerHP             Field = "power_hp"
	FieldFiscalPower         Field = "fiscal_power"
	FieldEngineCC            Field = "engine_cc"
	FieldTransmission        Field = "transmission"
	FieldGears               Field = "gears"
	FieldDrivetrain          Field = "drivetrain"
	FieldBodyType            Field = "body_type"
	FieldDoors               Field = "doors"
	FieldSeats               Field = "seats"
	FieldColorExterior       Field = "color_exterior"
	FieldColorInterior       Field = "color_interior"
	FieldPreviousOwners      Field = "previous_owners"
	FieldCO2Emissions        Field = "co2_emissions"
	FieldConsumptionCombined Field = "consumption_combined"
	FieldEmissionClass       Field = "emission_class"
	FieldVATDeductible       Field = "vat_deductible"
	FieldSellerType          Field = "seller_type"
	FieldSellerName          Field = "seller_name"
	FieldSellerLocation      Field = "seller_location"
	FieldSellerCountry       Field = "seller_country"
	FieldImageCount          Field = "image_count"

	// Derived by the cleaning pipeline
	FieldPricePerKm Field = "price_per_km"
	FieldAgeYears   Field = "age_years"
)

// Condition values
const (
	ConditionNew  = "new"
	ConditionUsed = "used"
)

// Value is a single field value: either text or a number. The zero Value is empty.
type Value struct {
	text   string
	number float64
	isNum  bool
}

// TextValue creates a text value. Surrounding whitespace is trimmed.
func TextValue(s string) Value {
	return Value{text: strings.TrimSpace(s)}
}

// NumberValue creates a numeric value.
func NumberValue(n float64) Value {
	return Value{number: n, isNum: true}
}

// IsEmpty reports whether the value carries no data
func (v Value) IsEmpty() bool {
	return !v.isNum && v.text == ""
}

// IsNumber reports whether the value is numeric
func (v Value) IsNumber() bool {
	return v.isNum
}

// Number returns the numeric value, parsing text values when possible
func (v Value) Number() (float64, bool) {
	if v.isNum {
		return v.number, true
	}
	if v.text == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v.text, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Int returns the value truncated to an int
func (v Value) Int() (int, bool) {
	n, ok := v.Number()
	if !ok {
		return 0, false
	}
	return int(n), true
}

// String renders the value; integral numbers are rendered without a fraction.
func (v Value) String() string {
	if !v.isNum {
		return v.text
	}
	if v.number == math.Trunc(v.number) && math.Abs(v.number) < 1e15 {
		return strconv.FormatInt(int64(v.number), 10)
	}
	return strconv.FormatFloat(v.number, 'f', -1, 64)
}

// MarshalJSON encodes numbers as JSON numbers and text as JSON strings
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return []byte(v.String()), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts either a JSON number or a JSON string
func (v *Value) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = NumberValue(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("value must be a number or a string: %w", err)
	}
	*v = TextValue(s)
	return nil
}

// Attributes holds canonical field values. Fields are filled write-once: a
// non-empty field is never overwritten by SetIfEmpty or Merge.
type Attributes map[Field]Value

// Get returns a non-empty value for the field
func (a Attributes) Get(f Field) (Value, bool) {
	v, ok := a[f]
	if !ok || v.IsEmpty() {
		return Value{}, false
	}
	return v, true
}

// Has reports whether the field holds a non-empty value
func (a Attributes) Has(f Field) bool {
	_, ok := a.Get(f)
	return ok
}

// Text returns the field rendered as text, or "" when unset
func (a Attributes) Text(f Field) string {
	v, ok := a.Get(f)
	if !ok {
		return ""
	}
	return v.String()
}

// Number returns the numeric value of the field
func (a Attributes) Number(f Field) (float64, bool) {
	v, ok := a.Get(f)
	if !ok {
		return 0, false
	}
	return v.Number()
}

// Int returns the integer value of the field
func (a Attributes) Int(f Field) (int, bool) {
	v, ok := a.Get(f)
	if !ok {
		return 0, false
	}
	return v.Int()
}

// SetIfEmpty stores v under f only when f is unset and v is non-empty.
// Returns true when the value was stored.
func (a Attributes) SetIfEmpty(f Field, v Value) bool {
	if v.IsEmpty() || a.Has(f) {
		return false
	}
	a[f] = v
	return true
}

// Replace overwrites f with a non-empty value. Empty values are ignored so a
// field can be rewritten (normalized, derived) but never blanked.
func (a Attributes) Replace(f Field, v Value) {
	if v.IsEmpty() {
		return
	}
	a[f] = v
}

// Merge applies every value of src with SetIfEmpty in field-name order and
// returns how many fields were filled.
func (a Attributes) Merge(src Attributes) int {
	filled := 0
	for _, f := range src.Fields() {
		if a.SetIfEmpty(f, src[f]) {
			filled++
		}
	}
	return filled
}

// Fields returns the names of all non-empty fields, sorted
func (a Attributes) Fields() []Field {
	fields := make([]Field, 0, len(a))
	for f, v := range a {
		if !v.IsEmpty() {
			fields = append(fields, f)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Clone returns an independent copy
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for f, v := range a {
		out[f] = v
	}
	return out
}

// Card is a partial record extracted from a listing/search page.
type Card struct {
	Key       string     `json:"key"`
	URL       string     `json:"url"`
	Partition string     `json:"partition"`
	Attrs     Attributes `json:"attributes"`
}

// NewCard creates a card with an empty attribute set
func NewCard(partition string) Card {
	return Card{Partition: partition, Attrs: Attributes{}}
}

// FeatureGroup classifies equipment items found on detail pages
type FeatureGroup string

// Feature groups
const (
	FeatureSafety  FeatureGroup = "safety"
	FeatureComfort FeatureGroup = "comfort"
	FeatureGeneral FeatureGroup = "general"
)

// Record is a card merged with detail-page data; the pipeline's terminal unit.
type Record struct {
	Key          string                    `json:"key"`
	URL          string                    `json:"url"`
	Partition    string                    `json:"partition"`
	Attrs        Attributes                `json:"attributes"`
	Features     map[FeatureGroup][]string `json:"features,omitempty"`
	DetailMerged bool                      `json:"detailMerged"`
	ScrapedAt    time.Time                 `json:"scrapedAt"`
}

// NewRecordFromCard promotes a card to a record carrying exactly the card's fields
func NewRecordFromCard(card Card, scrapedAt time.Time) *Record {
	attrs := card.Attrs.Clone()
	if attrs == nil {
		attrs = Attributes{}
	}
	return &Record{
		Key:       card.Key,
		URL:       card.URL,
		Partition: card.Partition,
		Attrs:     attrs,
		ScrapedAt: scrapedAt,
	}
}

// AddFeature appends a feature to a group unless already present
func (r *Record) AddFeature(group FeatureGroup, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if r.Features == nil {
		r.Features = make(map[FeatureGroup][]string)
	}
	for _, existing := range r.Features[group] {
		if existing == name {
			return false
		}
	}
	r.Features[group] = append(r.Features[group], name)
	return true
}

// Clone returns a deep copy so cleaning stages never mutate their input
func (r *Record) Clone() *Record {
	out := *r
	out.Attrs = r.Attrs.Clone()
	if r.Features != nil {
		out.Features = make(map[FeatureGroup][]string, len(r.Features))
		for g, items := range r.Features {
			out.Features[g] = append([]string(nil), items...)
		}
	}
	return &out
}

// Signature is the normalized key used to detect duplicate real-world entities
type Signature struct {
	Make    string
	Model   string
	Year    string
	Mileage string
	Price   string
}

// SignatureOf derives the dedup signature from make, model, year, mileage and
// price. Callers pass attributes whose make and model are already canonical.
func SignatureOf(attrs Attributes) Signature {
	return Signature{
		Make:    strings.ToLower(strings.TrimSpace(attrs.Text(FieldMake))),
		Model:   strings.ToLower(strings.TrimSpace(attrs.Text(FieldModel))),
		Year:    attrs.Text(FieldYear),
		Mileage: attrs.Text(FieldMileage),
		Price:   attrs.Text(FieldPrice),
	}
}
