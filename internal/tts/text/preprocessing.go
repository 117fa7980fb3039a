// Package text cleans input text before it is handed to a speech model.
//
// The model reads everything it is given, so markup noise such as citation
// markers, doubled punctuation and stray whitespace is removed while URLs and
// e-mail addresses are kept intact. English input additionally gets its
// abbreviations and integers spelled out.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// NumberBaseThousand represents the base for thousands.
	NumberBaseThousand = 1000
	// MaxNumberForWords represents the maximum number that can be converted to words.
	MaxNumberForWords = 999999
)

// LanguageEnglish enables the English-only rewrite steps.
const LanguageEnglish = "en"

const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern     = `\d+`
	referenceRegexPattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespaceRegexPattern = `\s+`
)

// Private-use runes delimit placeholders so no cleaning step touches them.
const (
	placeholderOpen  = '\uE000'
	placeholderClose = '\uE001'
)

// Normalizer rewrites text for one language.
type Normalizer struct {
	language string

	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	numberPattern     *regexp.Regexp
	referencePattern  *regexp.Regexp
	whitespacePattern *regexp.Regexp

	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewNormalizer compiles the patterns for language (an ISO 639-1 code).
func NewNormalizer(language string) *Normalizer {
	return &Normalizer{
		language:          strings.ToLower(strings.TrimSpace(language)),
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		numberPattern:     regexp.MustCompile(numberRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		abbreviationReplacer: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Co.", "Company",
			"Ltd.", "Limited",
			"Corp.", "Corporation",
			"Inc.", "Incorporated",
		),
		punctuationReplacer: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Language returns the language code the normalizer was built for.
func (n *Normalizer) Language() string {
	return n.language
}

// Normalize returns the cleaned text. Blank input yields "".
func (n *Normalizer) Normalize(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	working, placeholders := n.preserveTokens(input)

	if n.language == LanguageEnglish {
		working = n.abbreviationReplacer.Replace(working)
		working = n.numberPattern.ReplaceAllStringFunc(working, func(s string) string {
			num, err := strconv.Atoi(s)
			if err != nil {
				return s
			}

			return integerToWords(num)
		})
	}

	working = n.referencePattern.ReplaceAllString(working, "")
	working = n.punctuationReplacer.Replace(working)
	working = collapseRepeatedPunctuation(working)
	working = strings.TrimSpace(n.whitespacePattern.ReplaceAllString(working, " "))
	working = restoreTokens(working, placeholders)

	return ensureSentenceEnding(working)
}

// preserveTokens swaps URLs and e-mail addresses for placeholders.
func (n *Normalizer) preserveTokens(input string) (string, []string) {
	var placeholders []string

	replace := func(pattern *regexp.Regexp, text string) string {
		return pattern.ReplaceAllStringFunc(text, func(match string) string {
			placeholders = append(placeholders, match)

			return placeholder(len(placeholders) - 1)
		})
	}

	output := replace(n.urlPattern, input)
	output = replace(n.emailPattern, output)

	return output, placeholders
}

func restoreTokens(text string, placeholders []string) string {
	for i, original := range placeholders {
		text = strings.Replace(text, placeholder(i), original, 1)
	}

	return text
}

// placeholder encodes index with letters so the number step leaves it alone.
func placeholder(index int) string {
	var builder strings.Builder

	builder.WriteRune(placeholderOpen)

	for {
		builder.WriteByte(byte('a' + index%26))

		index /= 26
		if index == 0 {
			break
		}
	}

	builder.WriteRune(placeholderClose)

	return builder.String()
}

// collapseRepeatedPunctuation turns "!!!" into "!" but keeps "?!".
func collapseRepeatedPunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
	)

	builder.Grow(len(text))

	for _, char := range text {
		if unicode.IsPunct(char) && char == last {
			continue
		}

		builder.WriteRune(char)

		last = char
	}

	return builder.String()
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(text)

	switch lastChar {
	case '.', '!', '?', '。', '！', '？':
		return text
	default:
		return text + "."
	}
}

type numberConverter struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

func (nc *numberConverter) underHundred(num int) string {
	switch {
	case num < NumberBaseTen:
		return nc.ones[num]
	case num < NumberBaseTwenty:
		return nc.teens[num-NumberBaseTen]
	default:
		result := nc.tens[num/NumberBaseTen]
		if num%NumberBaseTen > 0 {
			result += " " + nc.ones[num%NumberBaseTen]
		}

		return result
	}
}

func (nc *numberConverter) underThousand(num int) string {
	var parts []string

	if hundreds := num / NumberBaseHundred; hundreds > 0 {
		parts = append(parts, nc.ones[hundreds]+" hundred")
	}

	if remainder := num % NumberBaseHundred; remainder > 0 {
		parts = append(parts, nc.underHundred(remainder))
	}

	return strings.Join(parts, " ")
}

// integerToWords spells out 0..MaxNumberForWords in English; other values are
// returned as digits.
func integerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	converter := newNumberConverter()

	var parts []string

	if thousands := number / NumberBaseThousand; thousands > 0 {
		parts = append(parts, converter.underThousand(thousands)+" thousand")
	}

	if remainder := number % NumberBaseThousand; remainder > 0 {
		parts = append(parts, converter.underThousand(remainder))
	}

	return strings.Join(parts, " ")
}
