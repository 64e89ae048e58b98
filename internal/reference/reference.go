// Package reference extracts court-file, contract and invoice numbers from
// free text and normalizes them for equality comparison.
package reference

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"casetriage/internal/domain"
)

type ExtractedReference = domain.ExtractedReference
type Type = domain.ReferenceType

var (
	courtFileRe  = regexp.MustCompile(`(?i)(\bdosar(?:ul)?\s*(?:nr\.?|num[aă]rul)?\s*:?\s*)?\b(\d{1,7})\s*/\s*(\d{1,4})\s*/\s*((?:19|20)\d{2})\b`)
	contractRe   = regexp.MustCompile(`(?i)\b(?:contract(?:ul)?|acord(?:ul)?)(?:(?:\s+\p{L}+){0,4}?\s*(?:nr\.?|num[aă]rul|#)\s*:?\s*([A-Z0-9][A-Z0-9./\-]*)|\s*:?\s*(\d[A-Z0-9./\-]*))`)
	invoiceRe    = regexp.MustCompile(`(?i)\b(?:factur(?:a|ă|ii)[\s:#]|fact\.\s*)\s*(?:fiscal[aă]\s*)?(?:seria\s+[A-Z]{1,5}\s*)?(?:nr\.?|num[aă]rul|#)?\s*:?\s*([A-Z]{0,5}[\s\-]?\d+(?:[\s\-]\d+)*)`)
	courtPartsRe = regexp.MustCompile(`(\d+)\s*/\s*(\d+)\s*/\s*(\d+)`)
)

// Extract returns every reference found in text, ordered by position.
// References with an already-seen normalized value are dropped.
func Extract(text string) []ExtractedReference {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var found []ExtractedReference
	found = append(found, extractCourtFiles(text)...)
	found = append(found, extractContracts(text)...)
	found = append(found, extractInvoices(text)...)

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Position < found[j].Position
	})

	seen := make(map[string]bool, len(found))
	out := make([]ExtractedReference, 0, len(found))
	for _, ref := range found {
		if ref.Normalized == "" || seen[ref.Normalized] {
			continue
		}
		seen[ref.Normalized] = true
		out = append(out, ref)
	}
	return out
}

func extractCourtFiles(text string) []ExtractedReference {
	var out []ExtractedReference
	for _, m := range courtFileRe.FindAllStringSubmatchIndex(text, -1) {
		prefixed := m[2] >= 0
		num := text[m[4]:m[5]]
		section := text[m[6]:m[7]]
		year := text[m[8]:m[9]]
		if !prefixed && looksLikeDate(num, section) {
			continue
		}
		out = append(out, ExtractedReference{
			Type:       domain.ReferenceCourtFile,
			RawValue:   text[m[0]:m[1]],
			Normalized: num + "/" + section + "/" + year,
			Position:   m[0],
		})
	}
	return out
}

// looksLikeDate reports whether an unprefixed dd/mm/yyyy value is more likely
// a calendar date than a court file number.
func looksLikeDate(first, second string) bool {
	if len(first) != 2 || len(second) != 2 {
		return false
	}
	day, err1 := strconv.Atoi(first)
	month, err2 := strconv.Atoi(second)
	if err1 != nil || err2 != nil {
		return false
	}
	return day >= 1 && day <= 31 && month >= 1 && month <= 12
}

func extractContracts(text string) []ExtractedReference {
	var out []ExtractedReference
	for _, m := range contractRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		if start < 0 {
			start, end = m[4], m[5]
		}
		if start < 0 {
			continue
		}
		value := strings.TrimRight(text[start:end], "./-")
		if !strings.ContainsFunc(value, unicode.IsDigit) {
			continue
		}
		out = append(out, ExtractedReference{
			Type:       domain.ReferenceContract,
			RawValue:   value,
			Normalized: Normalize(domain.ReferenceContract, value),
			Position:   m[0],
		})
	}
	return out
}

func extractInvoices(text string) []ExtractedReference {
	var out []ExtractedReference
	for _, m := range invoiceRe.FindAllStringSubmatchIndex(text, -1) {
		value := strings.TrimSpace(text[m[2]:m[3]])
		normalized := Normalize(domain.ReferenceInvoice, value)
		if normalized == "" {
			continue
		}
		out = append(out, ExtractedReference{
			Type:       domain.ReferenceInvoice,
			RawValue:   value,
			Normalized: normalized,
			Position:   m[0],
		})
	}
	return out
}

// Normalize converts a raw reference value into its canonical form for the
// given type.
func Normalize(t Type, raw string) string {
	switch t {
	case domain.ReferenceCourtFile:
		if parts := courtPartsRe.FindStringSubmatch(raw); len(parts) == 4 {
			return parts[1] + "/" + parts[2] + "/" + parts[3]
		}
		return strings.ToLower(stripSpace(raw))
	case domain.ReferenceInvoice:
		return keepRunes(raw, unicode.IsDigit)
	default:
		return strings.ToUpper(keepRunes(raw, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}))
	}
}

// KnownMatch is an extracted reference paired with the stored value it
// matched.
type KnownMatch struct {
	Reference ExtractedReference
	Known     string
}

// Match pairs each extracted reference with the first known reference that
// normalizes to the same value. Types are not compared, matching the
// type-agnostic dedup in Extract. Known values may be bare numbers or full
// phrases such as "dosar nr. 1234/3/2024".
func Match(extracted []ExtractedReference, known []string) []KnownMatch {
	if len(extracted) == 0 || len(known) == 0 {
		return nil
	}

	type knownForms struct {
		raw       string
		extracted []ExtractedReference
	}
	forms := make([]knownForms, 0, len(known))
	for _, k := range known {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		forms = append(forms, knownForms{raw: k, extracted: Extract(k)})
	}

	var out []KnownMatch
	for _, ref := range extracted {
		for _, k := range forms {
			if matchesKnown(ref, k.raw, k.extracted) {
				out = append(out, KnownMatch{Reference: ref, Known: k.raw})
				break
			}
		}
	}
	return out
}

func matchesKnown(ref ExtractedReference, raw string, extracted []ExtractedReference) bool {
	if len(extracted) > 0 {
		for _, k := range extracted {
			if k.Normalized == ref.Normalized {
				return true
			}
		}
		return false
	}
	// Bare stored values ("1234 / 3 / 2024", "FX-00123") carry no prefix for
	// the extractor to anchor on.
	return Normalize(ref.Type, raw) == ref.Normalized
}

func stripSpace(s string) string {
	return keepRunes(s, func(r rune) bool { return !unicode.IsSpace(r) })
}

func keepRunes(s string, keep func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
