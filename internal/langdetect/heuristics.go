package langdetect

import (
	"regexp"
	"strings"
)

var hindiMarkers = map[string]int{
	"है":   2,
	"में":  2,
	"का":   2,
	"को":   2,
	"के":   2,
	"एक":   1,
	"और":   1,
	"हैं":  2,
	"कर":   1,
	"मैं":  2,
	"पर":   1,
	"नहीं": 2,
	"से":   1,
	"हम":   1,
	"थी":   1,
	"था":   1,
}

var marathiMarkers = map[string]int{
	"आहे":   2,
	"मध्ये": 2,
	"ची":    2,
	"चा":    2,
	"ला":    2,
	"एक":    1,
	"आणि":   2,
	"मी":    1,
	"तो":    1,
	"ती":    1,
	"ते":    1,
	"होते":  2,
	"करत":   1,
	"नाही":  2,
	"माझा":  2,
	"तर":    1,
}

// Each occurrence of these sequences adds marathiPatternWeight.
var marathiPatterns = []string{"ळ", "ञ्", "त्य", "मध्य", "ण्य"}

const (
	marathiPatternWeight = 2
	marathiLLABonus      = 3
	endingBonus          = 2
)

var wordSeparator = regexp.MustCompile(`[\s,।]+`)

// HindiOrMarathi scores Devanagari text against Hindi and Marathi marker
// tables. It returns "hi" or "mr", or "en" when the text has no Devanagari.
// Ties resolve to Hindi.
func HindiOrMarathi(text string) string {
	if text == "" || !hasDevanagari(text) {
		return "en"
	}

	hindi, marathi := 0, 0
	for _, w := range wordSeparator.Split(strings.ToLower(text), -1) {
		if w == "" {
			continue
		}
		hindi += hindiMarkers[w]
		marathi += marathiMarkers[w]
	}
	for _, p := range marathiPatterns {
		marathi += strings.Count(text, p) * marathiPatternWeight
	}
	if strings.Contains(text, "ळ") {
		marathi += marathiLLABonus
	}
	if strings.HasSuffix(text, "है।") {
		hindi += endingBonus
	}
	if strings.HasSuffix(text, "आहे।") {
		marathi += endingBonus
	}

	if marathi > hindi {
		return "mr"
	}
	return "hi"
}

func hasDevanagari(text string) bool {
	for _, r := range text {
		if r >= 0x0900 && r <= 0x097F {
			return true
		}
	}
	return false
}

type scriptRange struct {
	lo, hi rune
	result Result
}

// Order matters: on equal counts the earlier script wins.
var indicScripts = []scriptRange{
	{0x0980, 0x09FF, Result{Code: "bn", Name: "Bengali"}},
	{0x0A80, 0x0AFF, Result{Code: "gu", Name: "Gujarati"}},
	{0x0A00, 0x0A7F, Result{Code: "pa", Name: "Punjabi"}},
	{0x0C80, 0x0CFF, Result{Code: "kn", Name: "Kannada"}},
	{0x0D00, 0x0D7F, Result{Code: "ml", Name: "Malayalam"}},
	{0x0B80, 0x0BFF, Result{Code: "ta", Name: "Tamil"}},
	{0x0C00, 0x0C7F, Result{Code: "te", Name: "Telugu"}},
	{0x0B00, 0x0B7F, Result{Code: "or", Name: "Odia"}},
}

// IndicScript picks the Indic script with the most characters in text,
// defaulting to English when none match.
func IndicScript(text string) Result {
	counts := make([]int, len(indicScripts))
	for _, r := range text {
		for i, s := range indicScripts {
			if r >= s.lo && r <= s.hi {
				counts[i]++
				break
			}
		}
	}
	best, max := -1, 0
	for i, c := range counts {
		if c > max {
			best, max = i, c
		}
	}
	if best < 0 {
		return English
	}
	return indicScripts[best].result
}
