package content

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html"

	"github.com/lueurxax/character-market/internal/core/domain"
)

const (
	wikiPrefix          = "/wiki/"
	minParagraphLength  = 20
	minSectionNameRunes = 2
	minSummaryNameRunes = 3
	titleSeparator      = " | "
)

// Links under the summary are a noisy fallback, so they are filtered harder.
var summarySkipPatterns = []string{
	"Chapter", "Episode", "Arc", "Saga", "Volume",
	"Devil_Fruit", "Marine", "Pirate", "Grand_Line",
	"East_Blue", "New_World", "Haki", "Jolly_Roger",
	"Village", "Bar", "Island", "Sea_King", "Cover_Page", "Color_Spread",
}

// Page is the structured content extracted from one episode page.
type Page struct {
	Title      string
	Summary    string
	Arc        string
	ReleasedAt *time.Time
	Candidates []domain.Candidate
}

// ParsePage extracts the title, summary, arc, release date and candidate
// links from a wiki episode page.
func ParsePage(body []byte, index int) (*Page, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := goquery.NewDocumentFromNode(root)

	article := doc.Find(".mw-parser-output").First()
	if article.Length() == 0 {
		article = doc.Find("body").First()
	}

	paragraphs := summaryParagraphs(article)

	candidates := sectionCandidates(article)
	if len(candidates) == 0 {
		candidates = summaryCandidates(article)
	}

	arc, released := infobox(doc)

	return &Page{
		Title:      pageTitle(doc, index),
		Summary:    strings.Join(paragraphs, " "),
		Arc:        arc,
		ReleasedAt: released,
		Candidates: candidates,
	}, nil
}

func pageTitle(doc *goquery.Document, index int) string {
	if t := cleanText(doc.Find("h1.page-header__title").First()); t != "" {
		return t
	}

	if t := cleanText(doc.Find("h1").First()); t != "" {
		return t
	}

	if t := cleanText(doc.Find("title").First()); t != "" {
		if i := strings.Index(t, titleSeparator); i > 0 {
			t = t[:i]
		}

		return t
	}

	return fmt.Sprintf("Chapter %d", index)
}

func summaryParagraphs(article *goquery.Selection) []string {
	headings := article.ChildrenFiltered("h2, h3")

	if paras := headingParagraphs(headings, func(text string) bool {
		return strings.Contains(text, "long summary")
	}); len(paras) > 0 {
		return paras
	}

	if paras := headingParagraphs(headings, func(text string) bool {
		return strings.Contains(text, "summary") && !strings.Contains(text, "short")
	}); len(paras) > 0 {
		return paras
	}

	var out []string

	article.Children().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		switch goquery.NodeName(s) {
		case "p":
			if text := cleanText(s); len(text) > minParagraphLength {
				out = append(out, text)
			}
		case "h2", "h3":
			return false
		}

		return true
	})

	return out
}

func headingParagraphs(headings *goquery.Selection, match func(text string) bool) []string {
	heading := headings.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return match(strings.ToLower(cleanText(s)))
	}).First()

	if heading.Length() == 0 {
		return nil
	}

	var out []string

	heading.NextUntil("h2, h3").Filter("p").Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(s); len(text) > minParagraphLength {
			out = append(out, text)
		}
	})

	return out
}

func sectionCandidates(article *goquery.Selection) []domain.Candidate {
	heading := article.Find("h2, h3, h4").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(cleanText(s)), "characters")
	}).First()

	if heading.Length() == 0 {
		return nil
	}

	return collectCandidates(heading.NextUntil("h2, h3, h4").Find("a[href]"), nil, minSectionNameRunes)
}

func summaryCandidates(article *goquery.Selection) []domain.Candidate {
	heading := article.ChildrenFiltered("h2, h3").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(cleanText(s)), "summary")
	}).First()

	if heading.Length() == 0 {
		return nil
	}

	links := heading.NextUntil("h2, h3").Filter("p").Find("a[href]")

	return collectCandidates(links, summarySkipPatterns, minSummaryNameRunes)
}

func collectCandidates(links *goquery.Selection, skip []string, minNameRunes int) []domain.Candidate {
	seen := make(map[string]struct{})

	var out []domain.Candidate

	links.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")

		key, ok := wikiKey(href)
		if !ok || containsAny(key, skip) {
			return
		}

		if _, dup := seen[key]; dup {
			return
		}

		name := cleanText(a)
		if utf8.RuneCountInString(name) < minNameRunes {
			return
		}

		seen[key] = struct{}{}
		out = append(out, domain.Candidate{ExternalKey: key, DisplayName: name})
	})

	return out
}

// wikiKey returns the article key of an internal wiki link. Namespaced links
// such as File:, Category: or Special: are rejected.
func wikiKey(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil || u.Host != "" || !strings.HasPrefix(u.Path, wikiPrefix) {
		return "", false
	}

	key := strings.TrimPrefix(u.Path, wikiPrefix)
	if key == "" || strings.Contains(key, ":") {
		return "", false
	}

	return key, true
}

func infobox(doc *goquery.Document) (string, *time.Time) {
	box := doc.Find("aside.portable-infobox, .portable-infobox").First()
	if box.Length() == 0 {
		return "", nil
	}

	arcField := box.Find(`[data-source="arc"]`).First()

	arc := cleanText(arcField.Find("a").First())
	if arc == "" {
		arc = cleanText(arcField.Find(".pi-data-value").First())
	}

	var released *time.Time

	box.Find(`[data-source="date"], [data-source="release"], [data-source="releasedate"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		value := s.Find(".pi-data-value").First()
		if value.Length() == 0 {
			value = s
		}

		if t, ok := parseReleaseDate(cleanText(value)); ok {
			released = &t
			return false
		}

		return true
	})

	return arc, released
}

func parseReleaseDate(text string) (time.Time, bool) {
	if i := strings.IndexAny(text, "([;"); i > 0 {
		text = text[:i]
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	t, err := dateparse.ParseAny(text)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

func cleanText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}

	return false
}
