package identity

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizeCPF remove tudo que não for dígito.
func NormalizeCPF(cpf string) string {
	return nonDigits.ReplaceAllString(cpf, "")
}

// ValidCPF reports whether cpf has exactly 11 digits once normalized.
// Check digits are not verified: the scheduling system hands out test CPFs.
func ValidCPF(cpf string) bool {
	return len(NormalizeCPF(cpf)) == 11
}

// NormalizePhone keeps digits only and drops a leading Brazil country code,
// so "+55 (11) 99999-9999" and "11999999999" compare equal.
func NormalizePhone(phone string) string {
	d := nonDigits.ReplaceAllString(phone, "")
	if strings.HasPrefix(d, "55") && (len(d) == 12 || len(d) == 13) {
		d = d[2:]
	}
	return d
}

var dateLayouts = []string{
	time.DateOnly,
	"02/01/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
}

// NormalizeDate devolve YYYY-MM-DD. Aceita ISO, DD/MM/YYYY (agenda) e
// timestamps; qualquer outra coisa vira "".
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return ""
}

// NormalizeName lowercases, strips accents and collapses whitespace:
// "  JOSÉ  da Silva" -> "jose da silva".
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// namesEqual compares two names after normalization. Empty names never match.
func namesEqual(a, b string) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	return na != "" && na == nb
}

// namePrefix reports whether one normalized name is a whole-token prefix of the
// other ("maria" vs "maria silva"), which is too weak to merge on.
func namePrefix(a, b string) bool {
	ta, tb := strings.Fields(NormalizeName(a)), strings.Fields(NormalizeName(b))
	if len(ta) == 0 || len(tb) == 0 || len(ta) == len(tb) {
		return false
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	for i := range ta {
		if ta[i] != tb[i] {
			return false
		}
	}
	return true
}
