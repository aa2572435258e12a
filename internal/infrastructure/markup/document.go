package markup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

var (
	specContainer = regexp.MustCompile(`(?i)spec|detail|key-value`)
	specSection   = regexp.MustCompile(`(?i)VehicleOverview|detail|spec`)
)

// Parser implements domain.MarkupParser on top of goquery
type Parser struct{}

// NewParser creates a markup parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse builds a queryable document from an HTML body
func (p *Parser) Parse(body []byte) (domain.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Document wraps a parsed page
type Document struct {
	doc *goquery.Document
}

// Items returns every element matching selector as an item container
func (d *Document) Items(selector string) []domain.Item {
	if selector == "" {
		return nil
	}
	var items []domain.Item
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		items = append(items, &Item{sel: s})
	})
	return items
}

// First returns the first element matching selector
func (d *Document) First(selector string) (domain.Item, bool) {
	if selector == "" {
		return nil, false
	}
	s := d.doc.Find(selector).First()
	if s.Length() == 0 {
		return nil, false
	}
	return &Item{sel: s}, true
}

// LabeledPairs collects label/value pairs from all specification regions
func (d *Document) LabeledPairs() []domain.LabeledPair {
	return labeledPairs(d.doc.Selection)
}

// StructuredData returns every JSON-LD object on the page. Top-level arrays
// and @graph containers are flattened.
func (d *Document) StructuredData() []map[string]any {
	var out []map[string]any
	d.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return
		}
		out = appendObjects(out, raw)
	})
	return out
}

func appendObjects(out []map[string]any, raw any) []map[string]any {
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			out = appendObjects(out, item)
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			return appendObjects(out, graph)
		}
		out = append(out, v)
	}
	return out
}

// EmbeddedJSON decodes the JSON payload of the script element with the given id
func (d *Document) EmbeddedJSON(id string) (map[string]any, bool) {
	s := d.doc.Find("script#" + id).First()
	if s.Length() == 0 {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s.Text()), &out); err != nil {
		return nil, false
	}
	return out, true
}

// ListItems returns the text of every list item inside sections whose class
// matches containerPattern. Each item is returned once even when containers nest.
func (d *Document) ListItems(containerPattern string) []string {
	if containerPattern == "" {
		return nil
	}
	re, err := regexp.Compile("(?i)" + containerPattern)
	if err != nil {
		return nil
	}

	seen := make(map[*html.Node]bool)
	var out []string
	d.doc.Find("section, div").Each(func(_ int, s *goquery.Selection) {
		if !re.MatchString(s.AttrOr("class", "")) {
			return
		}
		s.Find("li").Each(func(_ int, li *goquery.Selection) {
			node := li.Get(0)
			if seen[node] {
				return
			}
			seen[node] = true
			if text := collapsedText(li); text != "" {
				out = append(out, text)
			}
		})
	})
	return out
}

// Text returns the visible page text with whitespace collapsed
func (d *Document) Text() string {
	body := d.doc.Find("body")
	if body.Length() == 0 {
		return collapsedText(d.doc.Selection)
	}
	return collapsedText(body)
}

// Item wraps one repeating container
type Item struct {
	sel *goquery.Selection
}

// Attr returns the trimmed attribute value or ""
func (i *Item) Attr(name string) string {
	return strings.TrimSpace(i.sel.AttrOr(name, ""))
}

// Link returns the item's own href when it is an anchor, else the first nested link
func (i *Item) Link() string {
	if goquery.NodeName(i.sel) == "a" {
		if href, ok := i.sel.Attr("href"); ok {
			return strings.TrimSpace(href)
		}
	}
	href, _ := i.sel.Find("a[href]").First().Attr("href")
	return strings.TrimSpace(href)
}

// Heading returns the text of the first heading inside the item
func (i *Item) Heading() string {
	return collapsedText(i.sel.Find("h1, h2, h3").First())
}

// LabeledPairs collects label/value pairs inside the item
func (i *Item) LabeledPairs() []domain.LabeledPair {
	return labeledPairs(i.sel)
}

// Text returns the item text with whitespace collapsed
func (i *Item) Text() string {
	return collapsedText(i.sel)
}

// TextOf returns the text of the first element matching selector
func (i *Item) TextOf(selector string) string {
	if selector == "" {
		return ""
	}
	return collapsedText(i.sel.Find(selector).First())
}

// Count returns the number of elements matching selector
func (i *Item) Count(selector string) int {
	if selector == "" {
		return 0
	}
	return i.sel.Find(selector).Length()
}

// labeledPairs reads definition lists, table rows, key/value containers and
// spec-name/spec-value list items below root
func labeledPairs(root *goquery.Selection) []domain.LabeledPair {
	var pairs []domain.LabeledPair
	add := func(label, value *goquery.Selection) {
		l, v := collapsedText(label), collapsedText(value)
		if l != "" && v != "" {
			pairs = append(pairs, domain.LabeledPair{Label: l, Value: v})
		}
	}

	root.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dts, dds := dl.Find("dt"), dl.Find("dd")
		n := dts.Length()
		if dds.Length() < n {
			n = dds.Length()
		}
		for k := 0; k < n; k++ {
			add(dts.Eq(k), dds.Eq(k))
		}
	})

	root.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() >= 2 {
			add(cells.Eq(0), cells.Eq(1))
		}
	})

	root.Find("div[data-testid]").Each(func(_ int, s *goquery.Selection) {
		if !specContainer.MatchString(s.AttrOr("data-testid", "")) {
			return
		}
		children := s.ChildrenFiltered("div")
		if children.Length() == 2 {
			add(children.Eq(0), children.Eq(1))
		}
	})

	root.Find("section[class], div[class]").Each(func(_ int, s *goquery.Selection) {
		if !specSection.MatchString(s.AttrOr("class", "")) {
			return
		}
		s.ChildrenFiltered("div").Each(func(_ int, div *goquery.Selection) {
			sub := div.ChildrenFiltered("span, div, p")
			if sub.Length() == 2 {
				add(sub.Eq(0), sub.Eq(1))
			}
		})
	})

	root.Find("li").Each(func(_ int, li *goquery.Selection) {
		name := li.Find("span.spec-name").First()
		value := li.Find("span.spec-value").First()
		if name.Length() > 0 && value.Length() > 0 {
			add(name, value)
		}
	})

	return pairs
}

// collapsedText joins all text nodes below the selection with single spaces
func collapsedText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		writeText(&b, n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}
