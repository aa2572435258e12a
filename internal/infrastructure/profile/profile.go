package profile

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

//go:embed profiles/*.yaml
var builtin embed.FS

// Spec is the YAML shape of a site profile. A profile may name a base profile
// in Extends; the base is decoded first and the profile's own keys override it.
type Spec struct {
	Extends        string              `yaml:"extends"`
	Name           string              `yaml:"name"`
	Country        string              `yaml:"country"`
	BaseURL        string              `yaml:"base_url"`
	AcceptLanguage string              `yaml:"accept_language"`
	Search         SearchSpec          `yaml:"search"`
	Catalog        CatalogSpec         `yaml:"catalog"`
	Identity       IdentitySpec        `yaml:"identity"`
	Card           CardSpec            `yaml:"card"`
	Detail         DetailSpec          `yaml:"detail"`
	Labels         map[string]string   `yaml:"labels"`
	Fuel           map[string]string   `yaml:"fuel"`
	Transmission   map[string]string   `yaml:"transmission"`
	Drivetrain     map[string][]string `yaml:"drivetrain"`
	ConditionNew   []string            `yaml:"condition_new"`
	Features       FeatureSpec         `yaml:"features"`
	Text           TextSpec            `yaml:"text"`
	Defaults       map[string]string   `yaml:"defaults"`
}

// SearchSpec describes how search-result URLs are built
type SearchSpec struct {
	Path             string            `yaml:"path"`
	MakePath         string            `yaml:"make_path"`
	PagePath         string            `yaml:"page_path"`
	PageParam        string            `yaml:"page_param"`
	Params           []string          `yaml:"params"`
	ConditionParams  map[string]string `yaml:"condition_params"`
	MinPriceParam    string            `yaml:"min_price_param"`
	MaxPriceParam    string            `yaml:"max_price_param"`
	PairPath         string            `yaml:"pair_path"`
	PairParams       []string          `yaml:"pair_params"`
	CategoryParam    string            `yaml:"category_param"`
	SubcategoryParam string            `yaml:"subcategory_param"`
}

// CatalogSpec describes where the taxonomy lives in catalog pages
type CatalogSpec struct {
	Path             string     `yaml:"path"`
	SubPath          string     `yaml:"sub_path"`
	ScriptID         string     `yaml:"script_id"`
	Roots            [][]string `yaml:"roots"`
	CategoriesKey    string     `yaml:"categories_key"`
	SubcategoriesKey string     `yaml:"subcategories_key"`
}

// IdentitySpec resolves stable item keys and detail URLs
type IdentitySpec struct {
	ItemSelector string `yaml:"item_selector"`
	Attr         string `yaml:"attr"`
	KeyPattern   string `yaml:"key_pattern"`
	DetailPath   string `yaml:"detail_path"`
}

// CardSpec lists the card-level extraction rules
type CardSpec struct {
	Attributes []domain.AttributeRule `yaml:"attributes"`
	Selectors  []domain.SelectorRule  `yaml:"selectors"`
}

// DetailSpec lists detail-page specific rules
type DetailSpec struct {
	StructuredTypes  []string            `yaml:"structured_types"`
	NameReject       []string            `yaml:"name_reject"`
	FeatureContainer string              `yaml:"feature_container"`
	SellerSelector   string              `yaml:"seller_selector"`
	SellerName       string              `yaml:"seller_name"`
	SellerLocation   string              `yaml:"seller_location"`
	SellerKeywords   map[string][]string `yaml:"seller_keywords"`
}

// FeatureSpec holds the keyword tables used to classify equipment items
type FeatureSpec struct {
	Safety  []string `yaml:"safety"`
	Comfort []string `yaml:"comfort"`
	MaxLen  int      `yaml:"max_len"`
}

// TextSpec holds free-text patterns for the last-resort extraction
type TextSpec struct {
	Currency      []string `yaml:"currency"`
	PricePatterns []string `yaml:"price_patterns"`
	VATMarkers    string   `yaml:"vat_markers"`
	VATDeductible string   `yaml:"vat_deductible"`
}

// Profile is a compiled site profile. It implements domain.SiteProfile and is
// safe for concurrent use.
type Profile struct {
	spec          Spec
	labels        map[string]domain.Field
	labelKeys     []string
	fuel          map[string]string
	transmission  map[string]string
	transKeys     []string
	keyPattern    *regexp.Regexp
	pricePatterns []*regexp.Regexp
	vatMarkers    *regexp.Regexp
	vatDeductible *regexp.Regexp
	structured    map[string]bool
}

var _ domain.SiteProfile = (*Profile)(nil)

// Compile validates a spec and builds its lookup tables
func Compile(spec Spec) (*Profile, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("profile name is required")
	}
	if spec.BaseURL == "" {
		return nil, fmt.Errorf("profile %s: base_url is required", spec.Name)
	}
	if spec.Identity.ItemSelector == "" {
		return nil, fmt.Errorf("profile %s: identity.item_selector is required", spec.Name)
	}

	p := &Profile{
		spec:         spec,
		labels:       make(map[string]domain.Field, len(spec.Labels)),
		fuel:         foldKeys(spec.Fuel),
		transmission: foldKeys(spec.Transmission),
		structured:   make(map[string]bool, len(spec.Detail.StructuredTypes)),
	}
	for label, field := range spec.Labels {
		key := foldLabel(label)
		p.labels[key] = domain.Field(field)
		p.labelKeys = append(p.labelKeys, key)
	}
	p.labelKeys = longestFirst(p.labelKeys)
	for k := range p.transmission {
		p.transKeys = append(p.transKeys, k)
	}
	p.transKeys = longestFirst(p.transKeys)
	for _, t := range spec.Detail.StructuredTypes {
		p.structured[t] = true
	}

	var err error
	if spec.Identity.KeyPattern != "" {
		if p.keyPattern, err = regexp.Compile(spec.Identity.KeyPattern); err != nil {
			return nil, fmt.Errorf("profile %s: key_pattern: %w", spec.Name, err)
		}
	}
	for _, expr := range spec.Text.PricePatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("profile %s: price pattern %q: %w", spec.Name, expr, err)
		}
		p.pricePatterns = append(p.pricePatterns, re)
	}
	if spec.Text.VATMarkers != "" && spec.Text.VATDeductible != "" {
		if p.vatMarkers, err = regexp.Compile("(?i)" + spec.Text.VATMarkers); err != nil {
			return nil, fmt.Errorf("profile %s: vat_markers: %w", spec.Name, err)
		}
		if p.vatDeductible, err = regexp.Compile("(?i)" + spec.Text.VATDeductible); err != nil {
			return nil, fmt.Errorf("profile %s: vat_deductible: %w", spec.Name, err)
		}
	}
	return p, nil
}

// Name returns the partition name the profile serves
func (p *Profile) Name() string {
	return p.spec.Name
}

// Spec returns the decoded spec
func (p *Profile) Spec() Spec {
	return p.spec
}

// longestFirst sorts keys by length descending, then alphabetically, so
// partial matches prefer the most specific key deterministically
func longestFirst(keys []string) []string {
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

func foldKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[foldLabel(k)] = v
	}
	return out
}

// Registry loads and caches profiles by partition name
type Registry struct {
	mu       sync.Mutex
	fsys     fs.FS
	overlay  string
	profiles map[string]*Profile
}

// NewRegistry serves the built-in profiles. When dir is set, YAML files found
// there take precedence over the built-in ones with the same name.
func NewRegistry(dir string) *Registry {
	sub, _ := fs.Sub(builtin, "profiles")
	return &Registry{fsys: sub, overlay: dir, profiles: make(map[string]*Profile)}
}

// Profile returns the compiled profile for a partition
func (r *Registry) Profile(partition string) (domain.SiteProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(strings.TrimSpace(partition))
	if p, ok := r.profiles[name]; ok {
		return p, nil
	}

	spec, err := r.resolve(name, 0)
	if err != nil {
		return nil, err
	}
	spec.Extends = ""
	if spec.Name == "" {
		spec.Name = name
	}
	p, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	r.profiles[name] = p
	return p, nil
}

// Names lists the partitions with a concrete (non-base) profile
func (r *Registry) Names() []string {
	seen := map[string]bool{}
	collect := func(fsys fs.FS) {
		entries, err := fs.ReadDir(fsys, ".")
		if err != nil {
			return
		}
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() || filepath.Ext(n) != ".yaml" || strings.HasPrefix(n, "_") {
				continue
			}
			seen[strings.TrimSuffix(n, ".yaml")] = true
		}
	}
	collect(r.fsys)
	if r.overlay != "" {
		collect(os.DirFS(r.overlay))
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) resolve(name string, depth int) (Spec, error) {
	if depth > 4 {
		return Spec{}, fmt.Errorf("profile %s: extends chain too deep", name)
	}
	data, err := r.read(name)
	if err != nil {
		return Spec{}, err
	}

	var head struct {
		Extends string `yaml:"extends"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Spec{}, fmt.Errorf("profile %s: %w", name, err)
	}

	var spec Spec
	if head.Extends != "" {
		if spec, err = r.resolve(head.Extends, depth+1); err != nil {
			return Spec{}, err
		}
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("profile %s: %w", name, err)
	}
	return spec, nil
}

func (r *Registry) read(name string) ([]byte, error) {
	file := name + ".yaml"
	if r.overlay != "" {
		data, err := os.ReadFile(filepath.Join(r.overlay, file))
		if err == nil {
			return data, nil
		}
	}
	data, err := fs.ReadFile(r.fsys, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPartition, name)
	}
	return data, nil
}
