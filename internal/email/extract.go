package email

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/forPelevin/gomoji"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/zombor/receipt-scanner/internal/money"
)

var (
	reAmount     = regexp.MustCompile(`([$£€¥]|\b[A-Z]{3}\b)?\s?(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+\.\d{2})\b(?:\s?\b([A-Z]{3})\b)?`)
	reTotal      = regexp.MustCompile(`(?i)\btotal\b`)
	reSubtotal   = regexp.MustCompile(`(?i)\bsub\s*-?\s*total\b`)
	reSkipRow    = regexp.MustCompile(`(?i)\b(?:total|sub\s*-?\s*total|tax|vat|shipping|delivery|postage)\b`)
	reTextTotal  = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:grand\s+|order\s+)?total(?:\s+paid|\s+charged|\s+amount)?\s*[:\-]?\s*((?:[$£€¥]|\b[A-Z]{3}\b)?\s?(?:\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+\.\d{2}))`)
	reWhitespace = regexp.MustCompile(`\s+`)

	symbolCurrency = map[string]string{"$": "USD", "£": "GBP", "€": "EUR", "¥": "JPY"}
	smallAmount    = decimal.NewFromInt(1)

	blockTags = map[string]bool{
		"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"section": true, "header": true, "footer": true, "article": true,
	}
	secondLevel = map[string]bool{"co.uk": true, "com.au": true, "co.nz": true, "co.jp": true, "com.br": true}
)

type amount struct {
	value    decimal.Decimal
	currency string
	found    bool
}

// findAmounts returns every currency amount in s, with its currency when a symbol or a
// valid ISO code sits next to it.
func findAmounts(s string) []amount {
	var out []amount
	for _, m := range reAmount.FindAllStringSubmatch(s, -1) {
		v, ok := money.Parse(m[2])
		if !ok {
			continue
		}
		a := amount{value: v, found: true}
		a.currency = currencyOf(m[1])
		if a.currency == "" {
			a.currency = currencyOf(m[3])
		}
		out = append(out, a)
	}
	return out
}

func currencyOf(marker string) string {
	if marker == "" {
		return ""
	}
	if c, ok := symbolCurrency[marker]; ok {
		return c
	}
	unit, err := currency.ParseISO(marker)
	if err != nil {
		return ""
	}
	return unit.String()
}

func lastAmount(s string) (amount, bool) {
	all := findAmounts(s)
	if len(all) == 0 {
		return amount{}, false
	}
	return all[len(all)-1], true
}

func cleanText(s string) string {
	s = gomoji.RemoveEmojis(s)
	return strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
}

// renderText flattens the document to text with a line break after each block element.
func renderText(doc *goquery.Document) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head":
				return
			case "td", "th":
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteString("\n")
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = cleanText(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// merchant resolves the sender business. The bool reports a vocabulary match.
func (p *Parser) merchant(doc *goquery.Document, payload Payload, body string) (string, bool) {
	for _, s := range []string{payload.Subject, payload.Sender, body} {
		if name, ok := p.vocab.MatchVendor(s); ok {
			return name, true
		}
	}

	if name := firstText(doc.Find("h1, h2, h3"), notAmount); name != "" {
		return name, false
	}
	for _, sel := range []string{`meta[property="og:site_name"]`, `meta[name="application-name"]`} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if name := cleanText(content); name != "" {
				return name, false
			}
		}
	}
	if name := cleanText(doc.Find("title").First().Text()); name != "" {
		return name, false
	}
	if name := firstText(doc.Find("strong, b, em"), notAmount); name != "" {
		return name, false
	}
	if name := senderDomain(payload.Sender); name != "" {
		return name, false
	}
	return DefaultMerchant, false
}

func notAmount(s string) bool {
	return len(findAmounts(s)) == 0 && strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func firstText(sel *goquery.Selection, ok func(string) bool) string {
	var out string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := cleanText(s.Text()); t != "" && ok(t) {
			out = t
			return false
		}
		return true
	})
	return out
}

// senderDomain turns "Shop <orders@mail.corner-shop.co.uk>" into "Corner-Shop".
func senderDomain(sender string) string {
	addr := strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(sender); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	labels := strings.Split(strings.ToLower(strings.Trim(addr[at+1:], "> ")), ".")
	if len(labels) < 2 {
		return ""
	}
	idx := len(labels) - 2
	if len(labels) >= 3 && secondLevel[strings.Join(labels[len(labels)-2:], ".")] {
		idx = len(labels) - 3
	}
	if labels[idx] == "" {
		return ""
	}
	return cases.Title(language.English).String(labels[idx])
}

// leafRows returns table rows that contain no nested rows.
func leafRows(doc *goquery.Document) *goquery.Selection {
	return doc.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("tr").Length() == 0
	})
}

func lineItems(doc *goquery.Document) []LineItem {
	items := []LineItem{}
	leafRows(doc).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		label := cleanText(cells.First().Text())
		if label == "" || !notAmount(label) || reSkipRow.MatchString(label) {
			return
		}
		a, ok := lastAmount(cleanText(cells.Slice(1, cells.Length()).Text()))
		if !ok || a.value.IsZero() {
			return
		}
		items = append(items, LineItem{Name: label, Price: money.Format(a.value)})
	})
	return items
}

// total finds the charged amount. The bool reports whether it came from a total label.
func (p *Parser) total(doc *goquery.Document, combined string) (amount, bool) {
	var found amount
	leafRows(doc).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td, th")
		label := cleanText(cells.First().Text())
		if !reTotal.MatchString(label) || reSubtotal.MatchString(label) {
			return true
		}
		if a, ok := lastAmount(cleanText(row.Text())); ok {
			found = a
			return false
		}
		return true
	})
	if found.found {
		return found, true
	}

	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		text := cleanText(s.Text())
		if !reTotal.MatchString(text) || reSubtotal.MatchString(text) {
			return true
		}
		a, ok := lastAmount(text)
		if !ok {
			a, ok = lastAmount(cleanText(s.Next().Text()))
		}
		if ok {
			found = a
			return false
		}
		return true
	})
	if found.found {
		return found, true
	}

	for _, line := range strings.Split(combined, "\n") {
		if reSubtotal.MatchString(line) {
			continue
		}
		if m := reTextTotal.FindStringSubmatch(line); m != nil {
			if a, ok := lastAmount(m[1]); ok {
				return a, true
			}
		}
	}

	return bestAmount(findAmounts(combined)), false
}

// bestAmount prefers amounts with a currency marker, then the largest.
func bestAmount(all []amount) amount {
	var best amount
	for _, a := range all {
		switch {
		case !best.found:
			best = a
		case a.currency != "" && best.currency == "":
			best = a
		case (a.currency != "") == (best.currency != "") && a.value.GreaterThan(best.value):
			best = a
		}
	}
	return best
}
