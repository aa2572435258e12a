package profile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// fieldPower is a pseudo field for combined "110 kW (150 PS)" labels. It is
// expanded into power_kw and power_hp and never stored.
const fieldPower domain.Field = "power"

// maxHeadingLen caps cleaned listing headings
const maxHeadingLen = 60

var (
	textMileage   = regexp.MustCompile(`(?i)(\d{1,3}(?:[.\s\x{a0}]\d{3})+|\d+)\s*km\b`)
	textPowerPair = regexp.MustCompile(`(?i)(\d+)\s*kW\s*\((\d+)\s*(?:PS|hp|ch|CV)\)`)
	textPower     = regexp.MustCompile(`(?i)\b(\d{2,4})\s*(PS|hp|ch|CV|kW)\b`)
	textYear      = regexp.MustCompile(`\b(20[0-2]\d)\b`)

	headingPrice   = regexp.MustCompile(`(?i)(?:UPE|UVP|ab|statt)\s*:?\s*[\d.,]+\s*€`)
	headingSlash   = regexp.MustCompile(`\s*/\w.*$`)
	headingCommas  = regexp.MustCompile(`(?:,\s*\w+){2,}$`)
	headingStars   = regexp.MustCompile(`\s*\*\w+(\*\w+)+\*?\s*$`)
	headingTrail   = regexp.MustCompile(`[,/|*]+\s*$`)
	leadingSeries  = regexp.MustCompile(`^\d{3}`)
	engineCapacity = regexp.MustCompile(`[\d,.]+`)
	shortDecimal   = regexp.MustCompile(`[.,]\d{1,2}$`)
)

// AttributeRules returns the structured attribute rules for item containers
func (p *Profile) AttributeRules() []domain.AttributeRule {
	return p.spec.Card.Attributes
}

// SelectorRules returns the nested-element rules for item containers
func (p *Profile) SelectorRules() []domain.SelectorRule {
	return p.spec.Card.Selectors
}

// Lookup maps a localized label to a canonical field. An exact match wins;
// otherwise the longest table key contained in the label is used.
func (p *Profile) Lookup(label string) (domain.Field, bool) {
	key := foldLabel(label)
	if key == "" {
		return "", false
	}
	if f, ok := p.labels[key]; ok {
		return f, true
	}
	for _, k := range p.labelKeys {
		if strings.Contains(key, k) {
			return p.labels[k], true
		}
	}
	return "", false
}

// Parse converts a raw labeled value into canonical field values. Some
// labels fill more than one field (power, first registration, gearbox).
func (p *Profile) Parse(field domain.Field, raw string) domain.Attributes {
	raw = strings.TrimSpace(raw)
	out := domain.Attributes{}
	if raw == "" {
		return out
	}

	switch field {
	case domain.FieldPrice:
		if n, ok := parsePrice(raw, p.spec.Text.Currency); ok {
			out.SetIfEmpty(field, domain.NumberValue(float64(n)))
		}
	case domain.FieldMileage, domain.FieldEngineCC:
		if n, ok := digitsOnly(raw); ok {
			out.SetIfEmpty(field, domain.NumberValue(float64(n)))
		}
	case domain.FieldYear:
		if n, ok := yearIn(raw); ok {
			out.SetIfEmpty(field, domain.NumberValue(float64(n)))
		}
	case domain.FieldFirstRegistration:
		out.SetIfEmpty(field, domain.TextValue(raw))
		if n, ok := yearIn(raw); ok {
			out.SetIfEmpty(domain.FieldYear, domain.NumberValue(float64(n)))
		}
	case domain.FieldFuelType:
		out.SetIfEmpty(field, domain.TextValue(p.normalizeFuel(raw)))
	case domain.FieldTransmission:
		out.SetIfEmpty(field, domain.TextValue(p.normalizeTransmission(raw)))
		if n, ok := firstDigitIn(raw); ok {
			out.SetIfEmpty(domain.FieldGears, domain.NumberValue(float64(n)))
		}
	case fieldPower, domain.FieldPowerKW, domain.FieldPowerHP:
		p.parsePowerInto(out, field, raw)
	case domain.FieldDoors, domain.FieldSeats, domain.FieldGears:
		if n, ok := firstDigitIn(raw); ok {
			out.SetIfEmpty(field, domain.NumberValue(float64(n)))
		}
	case domain.FieldPreviousOwners, domain.FieldCO2Emissions, domain.FieldImageCount:
		if n, ok := firstIntIn(raw); ok {
			out.SetIfEmpty(field, domain.NumberValue(float64(n)))
		}
	case domain.FieldConsumptionCombined:
		if f, ok := decimalIn(raw); ok {
			out.SetIfEmpty(field, domain.NumberValue(f))
		}
	case domain.FieldDrivetrain:
		out.SetIfEmpty(field, domain.TextValue(p.normalizeDrivetrain(raw)))
	case domain.FieldCondition:
		out.SetIfEmpty(field, domain.TextValue(p.normalizeCondition(raw)))
	case domain.FieldSellerType:
		if t := p.sellerType(raw); t != "" {
			out.SetIfEmpty(field, domain.TextValue(t))
		}
	default:
		out.SetIfEmpty(field, domain.TextValue(raw))
	}
	return out
}

func (p *Profile) parsePowerInto(out domain.Attributes, field domain.Field, raw string) {
	kw, hp, ok := parsePower(raw)
	if !ok {
		n, found := firstIntIn(raw)
		if !found {
			return
		}
		switch field {
		case domain.FieldPowerKW:
			kw, hp = n, int(float64(n)*hpPerKW)
		default:
			hp, kw = n, int(float64(n)/hpPerKW)
		}
	}
	out.SetIfEmpty(domain.FieldPowerKW, domain.NumberValue(float64(kw)))
	out.SetIfEmpty(domain.FieldPowerHP, domain.NumberValue(float64(hp)))
}

// ParseAttribute applies one attribute rule to a raw attribute value. Coded
// values missing from the rule's table are ignored; the "*" key matches any
// value not listed.
func (p *Profile) ParseAttribute(rule domain.AttributeRule, raw string) domain.Attributes {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Attributes{}
	}
	if len(rule.Values) > 0 {
		mapped, ok := rule.Values[strings.ToLower(raw)]
		if !ok {
			mapped, ok = rule.Values["*"]
		}
		if !ok {
			return domain.Attributes{}
		}
		raw = mapped
	}
	switch rule.Transform {
	case "upper":
		raw = strings.ToUpper(raw)
	case "lower":
		raw = strings.ToLower(raw)
	}
	return p.Parse(rule.Field, raw)
}

// ParseText is the last-resort free-text extraction. Fields already present in
// known are skipped.
func (p *Profile) ParseText(text string, known domain.Attributes) domain.Attributes {
	out := domain.Attributes{}
	if strings.TrimSpace(text) == "" {
		return out
	}
	has := func(f domain.Field) bool { return known.Has(f) || out.Has(f) }

	if !has(domain.FieldPrice) {
		for _, re := range p.pricePatterns {
			if m := re.FindString(text); m != "" {
				if n, ok := parsePrice(m, p.spec.Text.Currency); ok {
					out.SetIfEmpty(domain.FieldPrice, domain.NumberValue(float64(n)))
					break
				}
			}
		}
	}

	if !has(domain.FieldMileage) {
		if m := textMileage.FindStringSubmatch(text); m != nil {
			if n, ok := digitsOnly(m[1]); ok {
				out.SetIfEmpty(domain.FieldMileage, domain.NumberValue(float64(n)))
			}
		}
	}

	if !has(domain.FieldPowerKW) && !has(domain.FieldPowerHP) {
		if m := textPowerPair.FindStringSubmatch(text); m != nil {
			kw, _ := atoi(m[1])
			hp, _ := atoi(m[2])
			out.SetIfEmpty(domain.FieldPowerKW, domain.NumberValue(float64(kw)))
			out.SetIfEmpty(domain.FieldPowerHP, domain.NumberValue(float64(hp)))
		} else if m := textPower.FindStringSubmatch(text); m != nil {
			p.parsePowerInto(out, fieldPower, m[1]+" "+m[2])
		}
	}

	if !has(domain.FieldTransmission) {
		lower := strings.ToLower(text)
		for _, k := range p.transKeys {
			if strings.Contains(lower, k) {
				out.SetIfEmpty(domain.FieldTransmission, domain.TextValue(p.transmission[k]))
				break
			}
		}
	}

	// a non-date registration ("new") means the page has no year to find
	reg := known.Text(domain.FieldFirstRegistration)
	if !has(domain.FieldYear) && (reg == "" || fourDigitYear.MatchString(reg)) {
		if m := textYear.FindStringSubmatch(text); m != nil {
			if n, ok := atoi(m[1]); ok {
				out.SetIfEmpty(domain.FieldYear, domain.NumberValue(float64(n)))
			}
		}
	}

	if !has(domain.FieldVATDeductible) && p.vatMarkers != nil &&
		p.vatMarkers.MatchString(text) && p.vatDeductible.MatchString(text) {
		out.SetIfEmpty(domain.FieldVATDeductible, domain.TextValue("true"))
	}
	return out
}

// ParseStructured reads a JSON-LD vehicle object. Objects of other types
// yield nothing.
func (p *Profile) ParseStructured(obj map[string]any) domain.Attributes {
	out := domain.Attributes{}
	if !p.structuredType(obj["@type"]) {
		return out
	}

	if name := anyText(obj["name"]); name != "" && !p.rejectedName(name) {
		out.SetIfEmpty(domain.FieldFullName, domain.TextValue(name))
	}

	var brand string
	switch b := obj["brand"].(type) {
	case map[string]any:
		brand = anyText(b["name"])
	default:
		brand = anyText(b)
	}
	out.SetIfEmpty(domain.FieldMake, domain.TextValue(brand))

	if model := anyText(obj["model"]); model != "" {
		if brand != "" && strings.HasPrefix(strings.ToLower(model), strings.ToLower(brand)) {
			model = strings.TrimSpace(model[len(brand):])
		}
		out.SetIfEmpty(domain.FieldModel, domain.TextValue(model))
	}

	if offer, ok := firstObject(obj["offers"]); ok {
		if price, ok := anyNumber(offer["price"]); ok {
			out.SetIfEmpty(domain.FieldPrice, domain.NumberValue(float64(int(price))))
		}
	}

	switch m := obj["mileageFromOdometer"].(type) {
	case map[string]any:
		if n, ok := anyNumber(m["value"]); ok {
			out.SetIfEmpty(domain.FieldMileage, domain.NumberValue(float64(int(n))))
		}
	case nil:
	default:
		if n, ok := digitsOnly(anyText(m)); ok {
			out.SetIfEmpty(domain.FieldMileage, domain.NumberValue(float64(n)))
		}
	}

	out.SetIfEmpty(domain.FieldVariant, domain.TextValue(anyText(obj["vehicleConfiguration"])))
	out.SetIfEmpty(domain.FieldBodyType, domain.TextValue(anyText(obj["bodyType"])))
	if fuel := anyText(obj["fuelType"]); fuel != "" {
		out.SetIfEmpty(domain.FieldFuelType, domain.TextValue(p.normalizeFuel(fuel)))
	}
	if trans := anyText(obj["vehicleTransmission"]); trans != "" {
		out.SetIfEmpty(domain.FieldTransmission, domain.TextValue(p.normalizeTransmission(trans)))
	}
	if n, ok := anyNumber(obj["numberOfDoors"]); ok {
		out.SetIfEmpty(domain.FieldDoors, domain.NumberValue(float64(int(n))))
	}
	if n, ok := anyNumber(obj["seatingCapacity"]); ok {
		out.SetIfEmpty(domain.FieldSeats, domain.NumberValue(float64(int(n))))
	}
	out.SetIfEmpty(domain.FieldColorExterior, domain.TextValue(anyText(obj["color"])))

	if engine, ok := firstObject(obj["vehicleEngine"]); ok {
		// "1.995 cm³" and "1,995 cc" are thousands; "1995.0" carries a decimal part
		if m := engineCapacity.FindString(anyText(engine["engineDisplacement"])); m != "" {
			if n, ok := digitsOnly(shortDecimal.ReplaceAllString(m, "")); ok {
				out.SetIfEmpty(domain.FieldEngineCC, domain.NumberValue(float64(n)))
			}
		}
		if m := kwValue.FindStringSubmatch(anyText(engine["enginePower"])); m != nil {
			kw, _ := atoi(m[1])
			out.SetIfEmpty(domain.FieldPowerKW, domain.NumberValue(float64(kw)))
			out.SetIfEmpty(domain.FieldPowerHP, domain.NumberValue(float64(int(float64(kw)*hpPerKW))))
		}
	}

	switch images := obj["image"].(type) {
	case []any:
		if len(images) > 0 {
			out.SetIfEmpty(domain.FieldImageCount, domain.NumberValue(float64(len(images))))
		}
	case string:
		out.SetIfEmpty(domain.FieldImageCount, domain.NumberValue(1))
	}
	return out
}

// SellerSelector returns the selector of the detail page's seller section
func (p *Profile) SellerSelector() string {
	return p.spec.Detail.SellerSelector
}

// ParseSeller reads seller name, location and type from the seller section
func (p *Profile) ParseSeller(section domain.Item) domain.Attributes {
	out := domain.Attributes{}
	out.SetIfEmpty(domain.FieldSellerName, domain.TextValue(section.TextOf(p.spec.Detail.SellerName)))
	out.SetIfEmpty(domain.FieldSellerLocation, domain.TextValue(section.TextOf(p.spec.Detail.SellerLocation)))
	if t := p.sellerType(section.Text()); t != "" {
		out.SetIfEmpty(domain.FieldSellerType, domain.TextValue(t))
	}
	return out
}

// Defaults returns the fields every record of the partition carries
func (p *Profile) Defaults() domain.Attributes {
	out := domain.Attributes{}
	if p.spec.Country != "" {
		out.SetIfEmpty(domain.FieldSellerCountry, domain.TextValue(strings.ToUpper(p.spec.Country)))
	}
	for field, value := range p.spec.Defaults {
		out.SetIfEmpty(domain.Field(field), domain.TextValue(value))
	}
	return out
}

// CleanHeading strips dealer noise (price tags, option chains) from a listing
// heading. Headings that end up too short are rebuilt from make and model.
func (p *Profile) CleanHeading(raw, brand, model string) string {
	name := strings.TrimSpace(raw)

	// "BMW 435435d" -> "BMW 435d"
	if brand != "" {
		prefix := strings.ToUpper(brand) + " "
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			after := name[len(prefix):]
			if s := leadingSeries.FindString(after); s != "" && strings.HasPrefix(after[len(s):], s) {
				name = name[:len(prefix)] + after[len(s):]
			}
		}
	}

	name = headingPrice.ReplaceAllString(name, "")
	name = headingSlash.ReplaceAllString(name, "")
	name = headingCommas.ReplaceAllString(name, "")
	name = headingStars.ReplaceAllString(name, "")
	name = headingTrail.ReplaceAllString(name, "")
	name = strings.Join(strings.Fields(name), " ")

	if len(name) > maxHeadingLen {
		name = name[:maxHeadingLen]
		if i := strings.LastIndex(name, " "); i > 0 {
			name = name[:i]
		}
		name = strings.TrimSpace(name)
	}

	if len(name) < 3 && (brand != "" || model != "") {
		name = strings.TrimSpace(strings.ToUpper(brand) + " " + model)
	}
	return name
}

// ClassifyFeature assigns an equipment item to a feature group. Items that are
// empty or too long to be a single feature get the empty group.
func (p *Profile) ClassifyFeature(name string) domain.FeatureGroup {
	name = strings.TrimSpace(name)
	maxLen := p.spec.Features.MaxLen
	if name == "" || (maxLen > 0 && len([]rune(name)) > maxLen) {
		return ""
	}
	lower := strings.ToLower(name)
	if containsAny(lower, p.spec.Features.Safety) {
		return domain.FeatureSafety
	}
	if containsAny(lower, p.spec.Features.Comfort) {
		return domain.FeatureComfort
	}
	return domain.FeatureGeneral
}

// FeatureContainer returns the class pattern of equipment sections
func (p *Profile) FeatureContainer() string {
	return p.spec.Detail.FeatureContainer
}

func (p *Profile) normalizeFuel(raw string) string {
	key := foldLabel(raw)
	if v, ok := p.fuel[key]; ok {
		return v
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func (p *Profile) normalizeTransmission(raw string) string {
	key := foldLabel(raw)
	if v, ok := p.transmission[key]; ok {
		return v
	}
	for _, k := range p.transKeys {
		if strings.Contains(key, k) {
			return p.transmission[k]
		}
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeDrivetrain checks AWD before RWD before FWD
func (p *Profile) normalizeDrivetrain(raw string) string {
	lower := strings.ToLower(raw)
	for _, code := range []string{"AWD", "RWD", "FWD"} {
		if containsAny(lower, p.spec.Drivetrain[code]) {
			return code
		}
	}
	return strings.TrimSpace(raw)
}

func (p *Profile) normalizeCondition(raw string) string {
	if containsAny(strings.ToLower(raw), p.spec.ConditionNew) {
		return domain.ConditionNew
	}
	return domain.ConditionUsed
}

// sellerType classifies free text as dealer or private; dealer keywords win
func (p *Profile) sellerType(text string) string {
	lower := strings.ToLower(text)
	for _, kind := range []string{"dealer", "private"} {
		if containsAny(lower, p.spec.Detail.SellerKeywords[kind]) {
			return kind
		}
	}
	return ""
}

func (p *Profile) structuredType(t any) bool {
	switch v := t.(type) {
	case string:
		return p.structured[v]
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && p.structured[s] {
				return true
			}
		}
	}
	return false
}

func (p *Profile) rejectedName(name string) bool {
	return containsAny(strings.ToLower(name), p.spec.Detail.NameReject)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// firstObject returns v when it is an object, or the first element of a list
func firstObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		if len(t) > 0 {
			obj, ok := t[0].(map[string]any)
			return obj, ok
		}
	}
	return nil, false
}

func anyText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func anyNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
