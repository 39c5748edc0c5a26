package retrieve

import "strings"

// Intent classifies a query for plan selection. Summary queries want broad
// document coverage; fact queries want precise hits.
type Intent string

const (
	IntentFact    Intent = "fact"
	IntentSummary Intent = "summary"
)

// summaryKeywords marks queries that ask about a document as a whole.
// Bilingual because the corpus carries English and German content.
var summaryKeywords = []string{
	"summary",
	"summarize",
	"summarise",
	"overview",
	"zusammenfassung",
	"zusammenfassen",
	"fasse zusammen",
	"überblick",
	"worum geht es",
	"what is this about",
	"what is the document about",
	"hauptpunkte",
	"main points",
	"key points",
}

// imageKeywords marks queries that refer to visual content.
var imageKeywords = []string{
	"image",
	"picture",
	"photo",
	"chart",
	"diagram",
	"graph",
	"figure",
	"screenshot",
	"illustration",
	"visual",
	"plot",
	"bild",
	"bilder",
	"grafik",
	"abbildung",
	"diagramm",
	"schaubild",
	"zeichnung",
	"foto",
	"visuell",
	"tabelle",
}

// DetectIntent classifies a query by keyword matching. Defaults to fact.
func DetectIntent(query string) Intent {
	q := strings.ToLower(query)
	for _, kw := range summaryKeywords {
		if strings.Contains(q, kw) {
			return IntentSummary
		}
	}
	return IntentFact
}

// ShouldUseImageRetrieval decides whether image assets are searched for this
// query. mode is one of "off", "on", "auto"; auto triggers on visual-content
// keywords in the query.
func ShouldUseImageRetrieval(query, mode string) bool {
	switch mode {
	case "off":
		return false
	case "on":
		return true
	}
	q := strings.ToLower(query)
	for _, kw := range imageKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
