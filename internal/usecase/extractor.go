package usecase

import (
	"strconv"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// CardExtractor turns one listing page into cards. It does no network I/O and
// yields the same cards for the same markup.
type CardExtractor struct {
	parser domain.MarkupParser
}

// NewCardExtractor creates an extractor on top of a markup parser
func NewCardExtractor(parser domain.MarkupParser) *CardExtractor {
	return &CardExtractor{parser: parser}
}

// Extract returns the cards of a listing page in page order. Items without a
// resolvable identity are discarded, and an item repeating an earlier key on
// the same page is skipped.
func (e *CardExtractor) Extract(partition domain.Partition, body []byte) []domain.Card {
	doc, err := e.parser.Parse(body)
	if err != nil {
		return nil
	}

	profile := partition.Profile
	items := doc.Items(profile.ItemSelector())
	cards := make([]domain.Card, 0, len(items))
	seen := make(map[string]bool, len(items))

	for _, item := range items {
		card, ok := e.extractCard(partition, item)
		if !ok || seen[card.Key] {
			continue
		}
		seen[card.Key] = true
		cards = append(cards, card)
	}
	return cards
}

// extractCard fills fields by source priority: structured attributes and
// nested elements, then the labeled region, then free text. URL-encoded
// fields and partition defaults only fill what is still empty.
func (e *CardExtractor) extractCard(partition domain.Partition, item domain.Item) (domain.Card, bool) {
	profile := partition.Profile

	var guid string
	if attr := profile.IdentityAttr(); attr != "" {
		guid = item.Attr(attr)
	}
	id, ok := profile.ResolveIdentity(item.Link(), guid)
	if !ok || id.Key == "" {
		return domain.Card{}, false
	}

	card := domain.NewCard(partition.Name)
	card.Key = id.Key
	card.URL = id.URL
	attrs := card.Attrs

	for _, rule := range profile.AttributeRules() {
		attrs.Merge(profile.ParseAttribute(rule, item.Attr(rule.Attr)))
	}
	for _, rule := range profile.SelectorRules() {
		if rule.Count {
			if n := item.Count(rule.Selector); n > 0 {
				attrs.Merge(profile.Parse(rule.Field, strconv.Itoa(n)))
			}
			continue
		}
		attrs.Merge(profile.Parse(rule.Field, item.TextOf(rule.Selector)))
	}

	for _, pair := range item.LabeledPairs() {
		if field, ok := profile.Lookup(pair.Label); ok {
			attrs.Merge(profile.Parse(field, pair.Value))
		}
	}

	attrs.Merge(profile.ParseText(item.Text(), attrs))
	attrs.Merge(id.Attrs)
	attrs.Merge(profile.Defaults())

	if heading := item.Heading(); heading != "" {
		name := profile.CleanHeading(heading, attrs.Text(domain.FieldMake), attrs.Text(domain.FieldModel))
		attrs.SetIfEmpty(domain.FieldFullName, domain.TextValue(name))
	}
	return card, true
}
