package profile

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// SearchURL builds the URL of one search-results page. A query with a
// category and subcategory targets the pair search; otherwise the paginated
// listing, optionally narrowed to one make.
func (p *Profile) SearchURL(q domain.SearchQuery) string {
	s := p.spec.Search
	page := q.Page
	if page < 1 {
		page = 1
	}

	var path string
	var params []string
	pair := q.Category.Value != "" && q.Subcategory.Value != ""
	switch {
	case pair:
		path = firstNonEmpty(s.PairPath, s.Path)
		params = append(params, s.PairParams...)
	case page > 1 && s.PagePath != "":
		path = s.PagePath
		params = append(params, s.Params...)
	case q.Make != "" && s.MakePath != "":
		path = s.MakePath
		params = append(params, s.Params...)
	default:
		path = s.Path
		params = append(params, s.Params...)
	}
	path = strings.NewReplacer(
		"{make}", url.PathEscape(q.Make),
		"{page}", strconv.Itoa(page),
	).Replace(path)

	if s.PageParam != "" {
		params = append(params, s.PageParam+"="+strconv.Itoa(page))
	}
	if pair {
		params = append(params,
			s.CategoryParam+"="+url.QueryEscape(q.Category.Value),
			s.SubcategoryParam+"="+url.QueryEscape(q.Subcategory.Value))
	}
	if c, ok := s.ConditionParams[q.Condition]; ok {
		params = append(params, c)
	}
	if q.MinPrice > 0 && s.MinPriceParam != "" {
		params = append(params, s.MinPriceParam+"="+strconv.Itoa(q.MinPrice))
	}
	if q.MaxPrice > 0 && s.MaxPriceParam != "" {
		params = append(params, s.MaxPriceParam+"="+strconv.Itoa(q.MaxPrice))
	}

	u := p.absolute(path)
	if len(params) > 0 {
		u += "?" + strings.Join(params, "&")
	}
	return u
}

// CatalogURL returns the top-level catalog page, or "" when the site has none
func (p *Profile) CatalogURL() string {
	if p.spec.Catalog.Path == "" {
		return ""
	}
	return p.absolute(p.spec.Catalog.Path)
}

// SubcatalogURL returns the catalog page listing the subcategories of category
func (p *Profile) SubcatalogURL(category domain.CatalogEntry) string {
	if p.spec.Catalog.SubPath == "" {
		return ""
	}
	return p.absolute(strings.ReplaceAll(p.spec.Catalog.SubPath, "{slug}", url.PathEscape(category.Slug)))
}

// ResolveIdentity derives the item key and detail URL from the item's link,
// falling back to the identity attribute. Named groups "make" and "model" in
// the key pattern become attributes.
func (p *Profile) ResolveIdentity(href, guid string) (domain.Identity, bool) {
	id := domain.Identity{Attrs: domain.Attributes{}}
	guid = strings.TrimSpace(guid)

	if href = strings.TrimSpace(href); href != "" {
		abs, path, ok := p.resolveHref(href)
		if ok {
			key, attrs, matched := p.matchKey(path)
			switch {
			case matched:
				id.Key, id.URL, id.Attrs = key, abs, attrs
				return id, true
			case guid != "":
				id.Key, id.URL = guid, abs
				return id, true
			case p.keyPattern == nil:
				id.Key, id.URL = path, abs
				return id, true
			}
		}
	}

	if guid == "" || p.spec.Identity.DetailPath == "" {
		return domain.Identity{}, false
	}
	id.Key = guid
	id.URL = p.absolute(strings.ReplaceAll(p.spec.Identity.DetailPath, "{id}", url.PathEscape(guid)))
	return id, true
}

// ItemSelector returns the selector of the repeating item container
func (p *Profile) ItemSelector() string {
	return p.spec.Identity.ItemSelector
}

// IdentityAttr returns the item attribute holding the listing id
func (p *Profile) IdentityAttr() string {
	return p.spec.Identity.Attr
}

// AcceptLanguage returns the partition's language preference header
func (p *Profile) AcceptLanguage() string {
	return p.spec.AcceptLanguage
}

// Categories reads the top-level taxonomy from the catalog page's embedded JSON
func (p *Profile) Categories(doc domain.Document) []domain.CatalogEntry {
	root, ok := p.catalogRoot(doc)
	if !ok {
		return nil
	}
	list, _ := root[p.spec.Catalog.CategoriesKey].([]any)
	return catalogEntries(list)
}

// Subcategories reads the subcategories of category from the embedded JSON,
// where they are keyed by the category value
func (p *Profile) Subcategories(doc domain.Document, category domain.CatalogEntry) []domain.CatalogEntry {
	root, ok := p.catalogRoot(doc)
	if !ok {
		return nil
	}
	byCategory, _ := root[p.spec.Catalog.SubcategoriesKey].(map[string]any)
	list, _ := byCategory[category.Value].([]any)
	return catalogEntries(list)
}

func (p *Profile) catalogRoot(doc domain.Document) (map[string]any, bool) {
	if p.spec.Catalog.ScriptID == "" {
		return nil, false
	}
	data, ok := doc.EmbeddedJSON(p.spec.Catalog.ScriptID)
	if !ok {
		return nil, false
	}
	for _, path := range p.spec.Catalog.Roots {
		if node, ok := walk(data, path); ok && len(node) > 0 {
			return node, true
		}
	}
	return nil, false
}

func walk(data map[string]any, path []string) (map[string]any, bool) {
	node := data
	for _, key := range path {
		next, ok := node[key].(map[string]any)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

// catalogEntries accepts both the long ("label"/"value") and the short
// ("n"/"i") key spellings
func catalogEntries(list []any) []domain.CatalogEntry {
	entries := make([]domain.CatalogEntry, 0, len(list))
	for _, raw := range list {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label := firstNonEmpty(anyText(obj["label"]), anyText(obj["n"]))
		value := firstNonEmpty(anyText(obj["value"]), anyText(obj["i"]))
		if label == "" && value == "" {
			continue
		}
		slug := value
		if label != "" {
			slug = strings.ReplaceAll(strings.ToLower(label), " ", "-")
		}
		entries = append(entries, domain.CatalogEntry{Label: label, Value: value, Slug: slug})
	}
	return entries
}

func (p *Profile) resolveHref(href string) (abs, path string, ok bool) {
	base, err := url.Parse(p.spec.BaseURL)
	if err != nil {
		return "", "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false
	}
	return u.String(), u.Path, true
}

func (p *Profile) matchKey(path string) (string, domain.Attributes, bool) {
	attrs := domain.Attributes{}
	if p.keyPattern == nil {
		return "", attrs, false
	}
	m := p.keyPattern.FindStringSubmatch(path)
	if m == nil {
		return "", attrs, false
	}

	key := m[0]
	if len(m) > 1 {
		key = m[1]
	}
	title := cases.Title(language.Und)
	for i, name := range p.keyPattern.SubexpNames() {
		switch name {
		case "key":
			key = m[i]
		case "make":
			attrs.SetIfEmpty(domain.FieldMake, domain.TextValue(title.String(strings.ReplaceAll(m[i], "-", " "))))
		case "model":
			attrs.SetIfEmpty(domain.FieldModel, domain.TextValue(title.String(strings.ReplaceAll(m[i], "-", " "))))
		}
	}
	return key, attrs, key != ""
}

func (p *Profile) absolute(path string) string {
	return strings.TrimRight(p.spec.BaseURL, "/") + path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
