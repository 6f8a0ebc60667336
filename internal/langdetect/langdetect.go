// Package langdetect classifies short user queries into the language codes
// understood by the chat and speech services.
package langdetect

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// Result is a language code with its display name.
type Result struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var English = Result{Code: "en", Name: "English"}

// StatisticalMinLetters is the shortest input, in letters, for which the
// n-gram classifier is trusted.
const StatisticalMinLetters = 24

// Classifier is a general statistical language classifier. It returns an
// internal code and whether the guess is confident.
type Classifier interface {
	Classify(text string) (Result, bool)
}

// Detector runs the statistical classifier first and falls back to the
// Hindi/Marathi and Indic script heuristics.
type Detector struct {
	classifier Classifier
}

func NewDetector(c Classifier) *Detector {
	if c == nil {
		c = NewNGramClassifier()
	}
	return &Detector{classifier: c}
}

var defaultDetector = NewDetector(nil)

// Classify uses the default n-gram classifier.
func Classify(text string) Result {
	return defaultDetector.Classify(text)
}

func (d *Detector) Classify(text string) Result {
	if strings.TrimSpace(text) == "" {
		return English
	}
	if r, ok := d.classifier.Classify(text); ok {
		return r
	}
	switch HindiOrMarathi(text) {
	case "hi":
		return Result{Code: "hi", Name: "Hindi"}
	case "mr":
		return Result{Code: "mr", Name: "Marathi"}
	}
	return IndicScript(text)
}

// NGramClassifier wraps whatlanggo restricted to the supported languages.
type NGramClassifier struct {
	options whatlanggo.Options
}

var supported = map[whatlanggo.Lang]Result{
	whatlanggo.Eng: {Code: "en", Name: "English"},
	whatlanggo.Hin: {Code: "hi", Name: "Hindi"},
	whatlanggo.Mar: {Code: "mr", Name: "Marathi"},
	whatlanggo.Ben: {Code: "bn", Name: "Bengali"},
	whatlanggo.Guj: {Code: "gu", Name: "Gujarati"},
	whatlanggo.Pan: {Code: "pa", Name: "Punjabi"},
	whatlanggo.Kan: {Code: "kn", Name: "Kannada"},
	whatlanggo.Mal: {Code: "ml", Name: "Malayalam"},
	whatlanggo.Tam: {Code: "ta", Name: "Tamil"},
	whatlanggo.Tel: {Code: "te", Name: "Telugu"},
	whatlanggo.Ori: {Code: "or", Name: "Odia"},
}

func NewNGramClassifier() *NGramClassifier {
	whitelist := make(map[whatlanggo.Lang]bool, len(supported))
	for lang := range supported {
		whitelist[lang] = true
	}
	return &NGramClassifier{options: whatlanggo.Options{Whitelist: whitelist}}
}

func (c *NGramClassifier) Classify(text string) (Result, bool) {
	if countLetters(text) < StatisticalMinLetters {
		return Result{}, false
	}
	info := whatlanggo.DetectWithOptions(text, c.options)
	if !info.IsReliable() {
		return Result{}, false
	}
	r, ok := supported[info.Lang]
	return r, ok
}

func countLetters(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsMark(r) {
			n++
		}
	}
	return n
}
