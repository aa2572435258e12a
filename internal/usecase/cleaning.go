package usecase

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

var registrationYearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Cleaning stage names, in pipeline order
const (
	StageAllowList = "allow_list"
	StageFloor     = "floor"
	StageDedup     = "dedup"
	StageNormalize = "normalize"
	StageDerive    = "derive"
	StageRequired  = "required"
	StageSanity    = "sanity"
)

// CleaningConfig holds the data-quality thresholds. The new-vs-used mileage
// threshold and the suspicious age/mileage pair are heuristics.
type CleaningConfig struct {
	AllowedFuelTypes    []string
	PriceFloor          float64
	NewMileageThreshold float64
	SuspiciousAgeYears  int
	SuspiciousMileage   float64
	RequiredFields      []domain.Field
	MakeAliases         map[string]string
}

// DefaultCleaningConfig returns the thresholds used for car listings
func DefaultCleaningConfig() CleaningConfig {
	return CleaningConfig{
		AllowedFuelTypes:    []string{"petrol", "diesel", "electric", "hybrid", "plug-in hybrid", "hybrid_rechargeable"},
		PriceFloor:          500,
		NewMileageThreshold: 100,
		SuspiciousAgeYears:  3,
		SuspiciousMileage:   100,
		RequiredFields:      []domain.Field{domain.FieldPrice, domain.FieldMake, domain.FieldModel},
		MakeAliases:         DefaultMakeAliases(),
	}
}

// DefaultMakeAliases maps lower-cased make spellings to their canonical name
func DefaultMakeAliases() map[string]string {
	return map[string]string{
		"mercedes-benz": "Mercedes-Benz",
		"mercedes":      "Mercedes-Benz",
		"bmw":           "BMW",
		"vw":            "Volkswagen",
		"volkswagen":    "Volkswagen",
		"alfa-romeo":    "Alfa Romeo",
		"alfa romeo":    "Alfa Romeo",
		"land-rover":    "Land Rover",
		"land rover":    "Land Rover",
		"rolls-royce":   "Rolls-Royce",
		"rolls royce":   "Rolls-Royce",
		"aston-martin":  "Aston Martin",
		"aston martin":  "Aston Martin",
		"ds":            "DS",
		"mg":            "MG",
	}
}

// StageFunc transforms a record set. It must not mutate its input records.
type StageFunc func(records []*domain.Record) []*domain.Record

// Stage is one named step of the cleaning pipeline
type Stage struct {
	Name  string
	Apply StageFunc
}

// StageObserver receives the record count after each stage
type StageObserver interface {
	ObserveStage(partition, stage string, count int)
}

// CleaningPipeline runs the cleaning stages in their fixed order
type CleaningPipeline struct {
	stages   []Stage
	observer StageObserver
	log      logrus.FieldLogger
}

// NewCleaningPipeline builds the seven stages from cfg. now is the reference
// clock for ages.
func NewCleaningPipeline(cfg CleaningConfig, now func() time.Time, observer StageObserver, log logrus.FieldLogger) *CleaningPipeline {
	if now == nil {
		now = time.Now
	}
	return &CleaningPipeline{
		stages: []Stage{
			{Name: StageAllowList, Apply: AllowListStage(domain.FieldFuelType, cfg.AllowedFuelTypes)},
			{Name: StageFloor, Apply: FloorStage(domain.FieldPrice, cfg.PriceFloor)},
			{Name: StageDedup, Apply: DedupStage(cfg.MakeAliases)},
			{Name: StageNormalize, Apply: NormalizeStage(cfg.MakeAliases)},
			{Name: StageDerive, Apply: DeriveStage(now, cfg.NewMileageThreshold)},
			{Name: StageRequired, Apply: RequiredStage(cfg.RequiredFields)},
			{Name: StageSanity, Apply: SanityStage(cfg.SuspiciousAgeYears, cfg.SuspiciousMileage)},
		},
		observer: observer,
		log:      log,
	}
}

// Stages returns the stages in execution order
func (p *CleaningPipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Run applies every stage in order and reports the count before and after each
func (p *CleaningPipeline) Run(partition string, records []*domain.Record) ([]*domain.Record, []domain.StageCount) {
	counts := make([]domain.StageCount, 0, len(p.stages))
	for _, stage := range p.stages {
		before := len(records)
		records = stage.Apply(records)
		counts = append(counts, domain.StageCount{Stage: stage.Name, Before: before, After: len(records)})

		if p.observer != nil {
			p.observer.ObserveStage(partition, stage.Name, len(records))
		}
		p.log.WithFields(logrus.Fields{"partition": partition, "stage": stage.Name}).
			Debugf("[CLEAN] %d -> %d", before, len(records))
	}
	return records, counts
}

// AllowListStage keeps records whose field value is in allowed. Records without
// the field are dropped.
func AllowListStage(field domain.Field, allowed []string) StageFunc {
	set := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		set[strings.ToLower(v)] = true
	}
	return func(records []*domain.Record) []*domain.Record {
		return filter(records, func(r *domain.Record) bool {
			return set[strings.ToLower(r.Attrs.Text(field))]
		})
	}
}

// FloorStage drops records whose numeric field is missing or below floor
func FloorStage(field domain.Field, floor float64) StageFunc {
	return func(records []*domain.Record) []*domain.Record {
		return filter(records, func(r *domain.Record) bool {
			v, ok := r.Attrs.Number(field)
			return ok && v >= floor
		})
	}
}

// DedupStage keeps the first record per signature and per identity key, in
// encounter order. The signature sees make and model as NormalizeStage will
// write them; the records themselves are left untouched.
func DedupStage(aliases map[string]string) StageFunc {
	return func(records []*domain.Record) []*domain.Record {
		title := cases.Title(language.Und)
		signatures := make(map[domain.Signature]bool, len(records))
		keys := make(map[string]bool, len(records))
		return filter(records, func(r *domain.Record) bool {
			attrs := r.Attrs.Clone()
			canonicalizeMakeModel(attrs, aliases, title)
			sig := domain.SignatureOf(attrs)
			if signatures[sig] || keys[r.Key] {
				return false
			}
			signatures[sig] = true
			keys[r.Key] = true
			return true
		})
	}
}

// NormalizeStage canonicalizes the make: known aliases first, otherwise title
// case. A missing make or model is taken from the full name's leading words.
func NormalizeStage(aliases map[string]string) StageFunc {
	return func(records []*domain.Record) []*domain.Record {
		title := cases.Title(language.Und)
		out := make([]*domain.Record, len(records))
		for i, r := range records {
			r = r.Clone()
			canonicalizeMakeModel(r.Attrs, aliases, title)
			out[i] = r
		}
		return out
	}
}

func canonicalizeMakeModel(attrs domain.Attributes, aliases map[string]string, title cases.Caser) {
	if !attrs.Has(domain.FieldMake) {
		words := strings.Fields(attrs.Text(domain.FieldFullName))
		if len(words) > 0 {
			attrs.SetIfEmpty(domain.FieldMake, domain.TextValue(words[0]))
		}
		if len(words) > 1 {
			attrs.SetIfEmpty(domain.FieldModel, domain.TextValue(words[1]))
		}
	}
	if brand := attrs.Text(domain.FieldMake); brand != "" {
		key := strings.ToLower(strings.TrimSpace(brand))
		if canonical, ok := aliases[key]; ok {
			attrs.Replace(domain.FieldMake, domain.TextValue(canonical))
		} else {
			attrs.Replace(domain.FieldMake, domain.TextValue(title.String(key)))
		}
	}
}

// DeriveStage computes price_per_km and age_years, defaults the condition from
// the mileage and builds a full name from make, model and variant when the
// record has none
func DeriveStage(now func() time.Time, newMileageThreshold float64) StageFunc {
	return func(records []*domain.Record) []*domain.Record {
		year := now().Year()
		out := make([]*domain.Record, len(records))
		for i, r := range records {
			r = r.Clone()
			attrs := r.Attrs

			price, hasPrice := attrs.Number(domain.FieldPrice)
			mileage, hasMileage := attrs.Number(domain.FieldMileage)
			if hasPrice && price > 0 && hasMileage && mileage > 0 {
				attrs.Replace(domain.FieldPricePerKm, domain.NumberValue(math.Round(price/mileage*100)/100))
			}

			if built, ok := registrationYear(attrs); ok {
				attrs.Replace(domain.FieldAgeYears, domain.NumberValue(float64(year-built)))
			}

			if hasMileage {
				condition := domain.ConditionUsed
				if mileage <= newMileageThreshold {
					condition = domain.ConditionNew
				}
				attrs.SetIfEmpty(domain.FieldCondition, domain.TextValue(condition))
			}

			if !attrs.Has(domain.FieldFullName) {
				var parts []string
				for _, f := range []domain.Field{domain.FieldMake, domain.FieldModel, domain.FieldVariant} {
					if v := attrs.Text(f); v != "" {
						parts = append(parts, v)
					}
				}
				attrs.SetIfEmpty(domain.FieldFullName, domain.TextValue(strings.Join(parts, " ")))
			}
			out[i] = r
		}
		return out
	}
}

// registrationYear prefers the year of first registration over the model year
func registrationYear(attrs domain.Attributes) (int, bool) {
	reg := attrs.Text(domain.FieldFirstRegistration)
	if m := registrationYearPattern.FindString(reg); m != "" {
		if y, err := strconv.Atoi(m); err == nil {
			return y, true
		}
	}
	return attrs.Int(domain.FieldYear)
}

// RequiredStage drops records missing any of fields. A zero number counts as missing.
func RequiredStage(fields []domain.Field) StageFunc {
	return func(records []*domain.Record) []*domain.Record {
		return filter(records, func(r *domain.Record) bool {
			for _, f := range fields {
				v, ok := r.Attrs.Get(f)
				if !ok {
					return false
				}
				if n, isNum := v.Number(); v.IsNumber() && isNum && n == 0 {
					return false
				}
			}
			return true
		})
	}
}

// SanityStage drops records not marked new whose age is at least minAge years
// while their mileage is below maxMileage
func SanityStage(minAge int, maxMileage float64) StageFunc {
	return func(records []*domain.Record) []*domain.Record {
		return filter(records, func(r *domain.Record) bool {
			if r.Attrs.Text(domain.FieldCondition) == domain.ConditionNew {
				return true
			}
			age, hasAge := r.Attrs.Int(domain.FieldAgeYears)
			mileage, hasMileage := r.Attrs.Number(domain.FieldMileage)
			return !(hasAge && age >= minAge && hasMileage && mileage < maxMileage)
		})
	}
}

func filter(records []*domain.Record, keep func(*domain.Record) bool) []*domain.Record {
	out := make([]*domain.Record, 0, len(records))
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
