// Package vocab holds the word lists the receipt and email heuristics match against:
// known merchants, online vendors, store-category keywords and city names.
package vocab

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Merchant is a known bricks-and-mortar merchant.
type Merchant struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Category string   `yaml:"category"`
}

// Vendor is a known online vendor that sends emailed receipts.
type Vendor struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Vocabulary is the compiled form of a vocabulary file.
type Vocabulary struct {
	Merchants     []Merchant `yaml:"merchants"`
	Vendors       []Vendor   `yaml:"vendors"`
	StoreKeywords []string   `yaml:"store_keywords"`
	Cities        []string   `yaml:"cities"`

	merchantRes []*regexp.Regexp
	vendorRes   []*regexp.Regexp
	storeRe     *regexp.Regexp
	cityRe      *regexp.Regexp
}

// Default returns the embedded vocabulary. It panics only if the embedded file is broken.
func Default() *Vocabulary {
	v, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded vocabulary: %v", err))
	}
	return v
}

// Load reads a vocabulary file. An empty path returns the embedded defaults.
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	return Parse(data)
}

// Parse decodes and compiles a YAML vocabulary document.
func Parse(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshaling vocabulary: %w", err)
	}
	if len(v.Merchants) == 0 && len(v.Vendors) == 0 {
		return nil, fmt.Errorf("vocabulary has no merchants or vendors")
	}
	v.compile()
	return &v, nil
}

func (v *Vocabulary) compile() {
	v.merchantRes = make([]*regexp.Regexp, len(v.Merchants))
	for i, m := range v.Merchants {
		v.merchantRes[i] = wordsRegexp(m.Keywords)
	}
	v.vendorRes = make([]*regexp.Regexp, len(v.Vendors))
	for i, m := range v.Vendors {
		v.vendorRes[i] = wordsRegexp(m.Keywords)
	}
	v.storeRe = wordsRegexp(v.StoreKeywords)
	v.cityRe = wordsRegexp(v.Cities)
}

// wordsRegexp builds a case-insensitive alternation bounded by non-letters. A nil result
// never matches.
func wordsRegexp(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}])`)
}

// MatchMerchant returns the known merchant mentioned in s.
func (v *Vocabulary) MatchMerchant(s string) (Merchant, bool) {
	for i, re := range v.merchantRes {
		if re != nil && re.MatchString(s) {
			return v.Merchants[i], true
		}
	}
	return Merchant{}, false
}

// MatchVendor returns the first known vendor or merchant mentioned in s. Vendors are
// checked before merchants, each in declaration order.
func (v *Vocabulary) MatchVendor(s string) (string, bool) {
	for i, re := range v.vendorRes {
		if re != nil && re.MatchString(s) {
			return v.Vendors[i].Name, true
		}
	}
	if m, ok := v.MatchMerchant(s); ok {
		return m.Name, true
	}
	return "", false
}

// HasStoreKeyword reports whether s contains a store-category keyword.
func (v *Vocabulary) HasStoreKeyword(s string) bool {
	return v.storeRe != nil && v.storeRe.MatchString(s)
}

// HasCity reports whether s names a known city.
func (v *Vocabulary) HasCity(s string) bool {
	return v.cityRe != nil && v.cityRe.MatchString(s)
}
