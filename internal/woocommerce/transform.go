package woocommerce

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"varmatrix/internal/model"
)

// wooTimeLayout is the layout of date_created / date_created_gmt.
const wooTimeLayout = "2006-01-02T15:04:05"

// dateLabelLayout mirrors WordPress' default "F j, Y g:i a".
const dateLabelLayout = "January 2, 2006 3:04 pm"

// attributeMetaPrefix prefixes variation attribute keys in some meta payloads.
const attributeMetaPrefix = "attribute_"

// orderStatusLabels are WooCommerce's order status display names.
var orderStatusLabels = map[string]string{
	"pending":        "Pending payment",
	"processing":     "Processing",
	"on-hold":        "On hold",
	"completed":      "Completed",
	"cancelled":      "Cancelled",
	"refunded":       "Refunded",
	"failed":         "Failed",
	"checkout-draft": "Draft",
}

// PaidStatuses are the order statuses WooCommerce treats as paid.
var PaidStatuses = []string{"processing", "completed"}

// StatusLabel returns the display name for an order status.
// Unknown (plugin-registered) statuses are returned as-is.
func StatusLabel(status string) string {
	if label, ok := orderStatusLabels[status]; ok {
		return label
	}
	return status
}

// ligatures are letters NFD does not decompose.
var ligatures = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "Æ", "AE", "ø", "o", "Ø", "O",
	"đ", "d", "Đ", "D", "ł", "l", "Ł", "L", "œ", "oe", "Œ", "OE",
)

// SanitizeTitle converts a display name into a WordPress-style slug:
// accents folded, lowercase, runs of whitespace and dashes collapsed to a
// single dash, everything outside [a-z0-9_-] dropped.
// "Světle Modrá" becomes "svetle-modra".
func SanitizeTitle(s string) string {
	// transform.Chain is stateful, build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, ligatures.Replace(s))
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == '-', r == '.', r == '/', unicode.IsSpace(r):
			pendingDash = true
		}
	}
	return b.String()
}

// catalog is a product's variation attributes resolved against the global
// attribute taxonomy. It maps the identifiers WooCommerce uses on variations
// back to attribute names.
type catalog struct {
	product    *WooProduct
	attributes []model.Attribute
	byID       map[int64]string // global attribute id -> "pa_*" name
	byLabel    map[string]string
}

// newCatalog builds the attribute list for a product. globals and terms are
// keyed by global attribute id; custom attributes need neither.
func newCatalog(product *WooProduct, globals map[int64]*WooAttribute, terms map[int64][]WooAttributeTerm) *catalog {
	cat := &catalog{
		product:    product,
		attributes: make([]model.Attribute, 0, len(product.Attributes)),
		byID:       make(map[int64]string),
		byLabel:    make(map[string]string),
	}

	for _, pa := range product.Attributes {
		if !pa.Variation {
			continue
		}
		attr := transformAttribute(pa, globals[pa.ID], terms[pa.ID])
		if pa.ID > 0 {
			cat.byID[pa.ID] = attr.Name
		}
		cat.byLabel[pa.Name] = attr.Name
		cat.attributes = append(cat.attributes, attr)
	}
	return cat
}

// transformAttribute converts a product attribute into the model form.
// Terms follow the product's option order; taxonomy options are matched to
// their global term by name, falling back to a sanitized slug.
func transformAttribute(pa WooProductAttribute, global *WooAttribute, terms []WooAttributeTerm) model.Attribute {
	attr := model.Attribute{
		Label:      pa.Name,
		IsTaxonomy: pa.ID > 0,
		Terms:      make([]model.Term, 0, len(pa.Options)),
	}

	if !attr.IsTaxonomy {
		attr.Name = SanitizeTitle(pa.Name)
		for _, opt := range pa.Options {
			attr.Terms = append(attr.Terms, model.Term{Slug: SanitizeTitle(opt), Name: opt})
		}
		return attr
	}

	switch {
	case global != nil && global.Slug != "":
		attr.Name = global.Slug
		if global.Name != "" {
			attr.Label = global.Name
		}
	case pa.Slug != "":
		attr.Name = pa.Slug
	default:
		attr.Name = "pa_" + SanitizeTitle(pa.Name)
	}

	byName := make(map[string]WooAttributeTerm, len(terms))
	for _, t := range terms {
		byName[t.Name] = t
		byName[t.Slug] = t
	}
	for _, opt := range pa.Options {
		if t, ok := byName[opt]; ok {
			attr.Terms = append(attr.Terms, model.Term{Slug: t.Slug, Name: t.Name})
			continue
		}
		attr.Terms = append(attr.Terms, model.Term{Slug: SanitizeTitle(opt), Name: opt})
	}
	return attr
}

// attributeName resolves a variation attribute reference to its name.
func (c *catalog) attributeName(va WooVariationAttribute) string {
	if va.ID > 0 {
		if name, ok := c.byID[va.ID]; ok {
			return name
		}
	}
	if name, ok := c.byLabel[va.Name]; ok {
		return name
	}
	return SanitizeTitle(va.Name)
}

// termSlug resolves a variation option (term name or slug) to a slug.
func (c *catalog) termSlug(attrName, option string) string {
	if option == "" {
		return ""
	}
	if attr, ok := model.FindAttribute(c.attributes, attrName); ok {
		for _, t := range attr.Terms {
			if t.Name == option || t.Slug == option {
				return t.Slug
			}
		}
	}
	return SanitizeTitle(option)
}

// normalizeVariation maps a WooCommerce variation to {attribute name: term slug}.
// An "any" value is kept as an empty slug, which never matches a grid cell.
func (c *catalog) normalizeVariation(v WooVariation) model.Variation {
	out := model.Variation{
		ID:         v.ID,
		Status:     v.Status,
		Attributes: make(map[string]string, len(v.Attributes)),
	}
	for _, va := range v.Attributes {
		name := c.attributeName(va)
		out.Attributes[name] = c.termSlug(name, va.Option)
	}
	return out
}

// checkDraft rejects a draft that names an attribute the product does not
// vary by, or a term the attribute does not offer. WooCommerce would store
// the first as an "any" value and the second as a free-text option.
func (c *catalog) checkDraft(draft model.VariationDraft) error {
	if len(draft.Attributes) == 0 {
		return fmt.Errorf("no attributes")
	}
	for _, name := range slices.Sorted(maps.Keys(draft.Attributes)) {
		attr, ok := model.FindAttribute(c.attributes, name)
		if !ok {
			return fmt.Errorf("%s is not a variation attribute of this product", name)
		}
		if slug := draft.Attributes[name]; !attr.HasTerm(slug) {
			return fmt.Errorf("%s has no term %q", name, slug)
		}
	}
	return nil
}

// variationCreate converts a draft into a create payload. WooCommerce resolves
// taxonomy options by term name, so the display name is sent for both kinds.
func (c *catalog) variationCreate(draft model.VariationDraft) WooVariationCreate {
	out := WooVariationCreate{
		Status:     "publish",
		Attributes: make([]WooVariationAttribute, 0, len(draft.Attributes)),
		draft:      draft,
	}
	for _, attr := range c.attributes {
		slug, ok := draft.Attributes[attr.Name]
		if !ok {
			continue
		}
		va := WooVariationAttribute{Option: attr.TermBySlug(slug).Name}
		if id := c.attributeID(attr.Name); id > 0 {
			va.ID = id
		} else {
			va.Name = attr.Label
		}
		out.Attributes = append(out.Attributes, va)
	}
	return out
}

func (c *catalog) attributeID(name string) int64 {
	for id, n := range c.byID {
		if n == name {
			return id
		}
	}
	return 0
}

// lineItemAttributes extracts variation attribute values from line-item meta.
// Non-string values (arrays, objects) yield an empty slug.
func (c *catalog) lineItemAttributes(meta []WooItemMeta) map[string]model.AttributeValue {
	out := make(map[string]model.AttributeValue)
	for _, m := range meta {
		key := strings.TrimPrefix(m.Key, attributeMetaPrefix)
		attr, ok := model.FindAttribute(c.attributes, key)
		if !ok {
			continue
		}
		// Taxonomy meta holds the term slug, custom attribute meta the
		// display value; both resolve to the slug variations use.
		var value string
		if err := json.Unmarshal(m.Value, &value); err != nil {
			value = ""
		}
		slug := c.termSlug(key, value)
		out[key] = model.AttributeValue{Slug: slug, Name: attr.TermBySlug(slug).Name}
	}
	return out
}

// variationAttributes converts a normalized variation into line-item values.
func (c *catalog) variationAttributes(v model.Variation) map[string]model.AttributeValue {
	out := make(map[string]model.AttributeValue)
	for _, attr := range c.attributes {
		slug, ok := v.Attributes[attr.Name]
		if !ok {
			continue
		}
		out[attr.Name] = model.AttributeValue{Slug: slug, Name: attr.TermBySlug(slug).Name}
	}
	return out
}

// transformLineItem converts an order line into an overview item.
// Returns false when the line belongs to a different product.
func (c *catalog) transformLineItem(order *WooOrder, item *WooLineItem, variations map[int64]model.Variation, storeURL string) (model.OrderLineItem, bool) {
	_, ownVariation := variations[item.VariationID]
	if item.ProductID != c.product.ID && !(item.VariationID != 0 && ownVariation) {
		return model.OrderLineItem{}, false
	}

	attrs := c.lineItemAttributes(item.MetaData)
	if len(attrs) == 0 && item.VariationID != 0 {
		if v, ok := variations[item.VariationID]; ok {
			attrs = c.variationAttributes(v)
		}
	}

	ts, label := orderDate(order)
	return model.OrderLineItem{
		OrderID:     order.ID,
		OrderNumber: orderNumber(order),
		EditURL:     buildOrderEditURL(storeURL, order.ID),
		Status:      order.Status,
		StatusLabel: StatusLabel(order.Status),
		DateLabel:   label,
		Timestamp:   ts,
		Customer:    customerName(&order.Billing),
		Quantity:    item.Quantity,
		Attributes:  attrs,
	}, true
}

func orderNumber(order *WooOrder) string {
	if order.Number != "" {
		return order.Number
	}
	return strconv.FormatInt(order.ID, 10)
}

// orderDate returns the creation Unix timestamp and display label.
// Unparseable dates give (0, "").
func orderDate(order *WooOrder) (int64, string) {
	var ts int64
	if t, err := time.Parse(wooTimeLayout, order.DateCreatedGMT); err == nil {
		ts = t.Unix()
	}
	local, err := time.Parse(wooTimeLayout, order.DateCreated)
	if err != nil {
		if ts == 0 {
			return 0, ""
		}
		local = time.Unix(ts, 0).UTC()
	}
	return ts, local.Format(dateLabelLayout)
}

// customerName is the billing full name, or the billing email when no name is set.
func customerName(b *WooBilling) string {
	name := strings.TrimSpace(strings.TrimSpace(b.FirstName) + " " + strings.TrimSpace(b.LastName))
	if name != "" {
		return name
	}
	return strings.TrimSpace(b.Email)
}

// buildOrderEditURL returns the wp-admin edit link for an order.
func buildOrderEditURL(storeURL string, orderID int64) string {
	return storeURL + "/wp-admin/post.php?post=" + strconv.FormatInt(orderID, 10) + "&action=edit"
}
