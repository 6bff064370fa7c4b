package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scanner/internal/money"
)

// Item is a single purchased line. Price is negative only for discounts.
type Item struct {
	Name     string   `json:"name"`
	Price    string   `json:"price"`
	Quantity *float64 `json:"quantity,omitempty"`
}

// ItemOptions carries what the item pass needs from the other extractors.
type ItemOptions struct {
	// Start is the first line that may hold an item.
	Start int
	// Total is the extracted total, empty when unknown. Prices equal to it are not items.
	Total string
	// Exclude holds strings already claimed as merchant or location.
	Exclude []string
}

var (
	reWeightLine = regexp.MustCompile(`(?i)^(.*?)\s*(\d+(?:\.\d+)?)\s*(kg|g|lb|lbs|oz)\s*@\s*[$£€]?\s*(\d+(?:\.\d{1,3})?)\s*/\s*(?:kg|g|lb|lbs|oz)\b(?:\s*[$£€]?\s*(-?\d{1,6}\.\d{2}))?\s*[a-z*]?\s*$`)
	reQtyLine    = regexp.MustCompile(`(?i)^(.*?)\s*\b(\d{1,3})\s*[x@]\s*[$£€]?\s*(\d{1,6}\.\d{2})(?:\s*(?:each|ea))?(?:\s+[$£€]?\s*(-?\d{1,6}\.\d{2}))?\s*[a-z*]?\s*$`)
)

type itemPass struct {
	lines    []string
	start    int
	used     map[int]bool
	skipped  []int
	found    []foundItem
	total    decimal.Decimal
	hasTotal bool
	exclude  []string
}

type foundItem struct {
	idx  int
	item Item
}

// ExtractItems pulls purchased lines out of the receipt body. A first pass handles
// name-and-price lines, weighed and multiplied lines and blocks of names followed by
// blocks of prices; a second pass pairs leftover price-only lines with the closest
// plausible name above them.
func ExtractItems(lines []string, opts ItemOptions) []Item {
	p := &itemPass{
		lines: lines,
		start: max(0, opts.Start),
		used:  make(map[int]bool),
	}
	if opts.Total != "" {
		if d, ok := money.Parse(opts.Total); ok && !d.IsZero() {
			p.total, p.hasTotal = d, true
		}
	}
	for _, ex := range opts.Exclude {
		if ex = strings.ToLower(cleanName(ex)); ex != "" && ex != strings.ToLower(DefaultMerchant) && ex != strings.ToLower(DefaultLocation) {
			p.exclude = append(p.exclude, ex)
		}
	}

	for i := p.start; i < len(lines); i++ {
		if p.used[i] {
			continue
		}
		switch {
		case p.weighed(i), p.multiplied(i), p.block(i), p.single(i):
		default:
			if _, ok := isPriceOnly(lines[i]); ok {
				p.skipped = append(p.skipped, i)
			}
		}
	}
	p.attachSkipped()

	sort.SliceStable(p.found, func(a, b int) bool { return p.found[a].idx < p.found[b].idx })
	items := make([]Item, 0, len(p.found))
	for _, f := range p.found {
		items = append(items, f.item)
	}
	return items
}

func (p *itemPass) add(idx int, name string, price decimal.Decimal, qty *float64) {
	p.found = append(p.found, foundItem{idx: idx, item: Item{
		Name:     name,
		Price:    money.Format(price),
		Quantity: qty,
	}})
}

func (p *itemPass) weighed(i int) bool {
	m := reWeightLine.FindStringSubmatch(p.lines[i])
	if m == nil {
		return false
	}
	weight, err := strconv.ParseFloat(m[2], 64)
	if err != nil || weight <= 0 {
		return false
	}
	unit, err := decimal.NewFromString(m[4])
	if err != nil {
		return false
	}

	price := decimal.NewFromFloat(weight).Mul(unit).Round(2)
	if m[5] != "" {
		price, _ = money.Parse(m[5])
	} else if next := i + 1; next < len(p.lines) && !p.used[next] {
		if t, ok := isPriceOnly(p.lines[next]); ok {
			price = t.Value
			p.used[next] = true
		}
	}
	if price.IsZero() {
		p.used[i] = true
		return true
	}

	idx, name := p.itemName(i, m[1])
	if name == "" {
		name = "Weighed item"
	}
	p.used[i] = true
	p.add(idx, name, price, &weight)
	return true
}

func (p *itemPass) multiplied(i int) bool {
	m := reQtyLine.FindStringSubmatch(p.lines[i])
	if m == nil {
		return false
	}
	n, _ := strconv.Atoi(m[2])
	unit, ok := money.Parse(m[3])
	if n <= 0 || !ok {
		return false
	}
	idx, name := p.itemName(i, m[1])
	if name == "" {
		return false
	}

	computed := unit.Mul(decimal.NewFromInt(int64(n)))
	price := computed
	if m[4] != "" {
		price, _ = money.Parse(m[4])
	} else if next := i + 1; next < len(p.lines) && !p.used[next] {
		if t, ok := isPriceOnly(p.lines[next]); ok && t.Value.Sub(computed).Abs().LessThanOrEqual(decimal.New(1, -2)) {
			price = t.Value
			p.used[next] = true
		}
	}
	p.used[i] = true
	if price.IsZero() {
		return true
	}
	qty := float64(n)
	p.add(idx, name, price, &qty)
	return true
}

// itemName prefers a name printed on the line itself and otherwise claims the closest
// name line above it.
func (p *itemPass) itemName(i int, inline string) (int, string) {
	if name := cleanItemName(inline); alphaCount(name) >= 2 {
		return i, name
	}
	for j := i - 1; j >= max(p.start, i-2); j-- {
		if p.used[j] || hasPrice(p.lines[j]) {
			break
		}
		if p.qualifies(p.lines[j], false) {
			p.used[j] = true
			return j, cleanItemName(p.lines[j])
		}
	}
	return i, ""
}

func (p *itemPass) block(i int) bool {
	n := len(p.lines)
	j := i
	for j < n && !p.used[j] && !hasPrice(p.lines[j]) && p.qualifies(p.lines[j], false) {
		j++
	}
	k := j
	for k < n && !p.used[k] {
		if _, ok := isPriceOnly(p.lines[k]); !ok {
			break
		}
		k++
	}
	if j-i < 2 || k-j < 2 {
		return false
	}

	var prices []decimal.Decimal
	for x := j; x < k; x++ {
		t, _ := isPriceOnly(p.lines[x])
		if t.Value.IsZero() || (p.hasTotal && t.Value.Equal(p.total)) {
			continue
		}
		prices = append(prices, t.Value)
	}
	for x := 0; x < min(j-i, len(prices)); x++ {
		name := cleanItemName(p.lines[i+x])
		p.used[i+x] = true
		if prices[x].IsNegative() && !looksLikeDiscount(name) {
			continue
		}
		p.add(i+x, name, prices[x], nil)
	}
	for x := j; x < k; x++ {
		p.used[x] = true
	}
	return true
}

func (p *itemPass) single(i int) bool {
	line := p.lines[i]
	toks := priceTokens(line)
	if len(toks) == 0 {
		return false
	}
	last := toks[len(toks)-1]
	if !reTaxFlags.MatchString(strings.TrimSpace(line[last.End:])) {
		return false
	}
	name := cleanItemName(line[:toks[0].Start])
	if alphaCount(name) < 2 || reTotalWord.MatchString(line) || reSubtotal.MatchString(line) {
		return false
	}
	if !p.qualifies(name, last.Value.IsNegative()) {
		return false
	}
	p.used[i] = true
	if last.Value.IsZero() {
		return true
	}
	p.add(i, name, last.Value, nil)
	return true
}

func (p *itemPass) attachSkipped() {
	for _, idx := range p.skipped {
		if p.used[idx] {
			continue
		}
		t, _ := isPriceOnly(p.lines[idx])
		if t.Value.IsZero() {
			continue
		}
		negative := t.Value.IsNegative()
		for j := idx - 1; j >= max(p.start, idx-3); j-- {
			line := p.lines[j]
			if p.used[j] || hasPrice(line) || reTotalWord.MatchString(line) {
				break
			}
			if reNoise.MatchString(line) && !(negative && looksLikeDiscount(line)) {
				break
			}
			if !p.qualifies(line, negative) {
				continue
			}
			p.used[j], p.used[idx] = true, true
			p.add(j, cleanItemName(line), t.Value, nil)
			break
		}
	}
}

// qualifies reports whether s can name an item. Discount names may carry words that are
// otherwise noise, and a negative price requires one.
func (p *itemPass) qualifies(s string, negative bool) bool {
	name := cleanItemName(s)
	if alphaCount(name) < 2 || longestWord(name) < 3 {
		return false
	}
	if reURL.MatchString(name) || rePhone.MatchString(name) || looksLikeAddress(name) || isLogoArtifact(name) || reBarcode.MatchString(name) {
		return false
	}
	if reMaskedCard.MatchString(name) || p.excluded(name) {
		return false
	}
	if negative {
		return looksLikeDiscount(name)
	}
	return !reNoise.MatchString(name)
}

func (p *itemPass) excluded(name string) bool {
	l := strings.ToLower(name)
	for _, ex := range p.exclude {
		if l == ex || (len(l) > 3 && strings.Contains(ex, l)) {
			return true
		}
	}
	return false
}

func cleanItemName(s string) string {
	s = reLeadingCode.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.TrimRight(cleanName(s), " @")
}
