package content

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/character-market/internal/core/domain"
)

const chapterPage = `<!DOCTYPE html>
<html>
<head><title>Chapter 1 | One Piece Wiki | Fandom</title></head>
<body>
<h1 class="page-header__title">Chapter 1</h1>
<aside class="portable-infobox">
  <div class="pi-item pi-data" data-source="arc">
    <h3 class="pi-data-label">Arc</h3>
    <div class="pi-data-value"><a href="/wiki/Romance_Dawn_Arc">Romance Dawn Arc</a></div>
  </div>
  <div class="pi-item pi-data" data-source="date">
    <h3 class="pi-data-label">Release Date</h3>
    <div class="pi-data-value">July 22, 1997 (Japan)</div>
  </div>
</aside>
<div class="mw-parser-output">
  <p>Chapter 1 is titled "Romance Dawn".</p>
  <h2><span class="mw-headline">Short Summary</span></h2>
  <p>A short version of the events that should not be used at all.</p>
  <h2><span class="mw-headline">Long Summary</span></h2>
  <p>Luffy dreams of becoming King of the Pirates after meeting Shanks in the village.</p>
  <p>Short.</p>
  <p>Shanks loses his arm saving Luffy from a Sea King and gives him his straw hat.</p>
  <h2><span class="mw-headline">Quick Reference</span></h2>
  <h3><span class="mw-headline">Characters</span></h3>
  <ul>
    <li><a href="/wiki/Monkey_D._Luffy">Monkey D. Luffy</a></li>
    <li><a href="/wiki/Shanks">Shanks</a></li>
    <li><a href="/wiki/Shanks">Red-Haired Shanks</a></li>
    <li><a href="/wiki/File:Luffy.png">image</a></li>
    <li><a href="/wiki/Category:Characters">Category</a></li>
    <li><a href="/wiki/Special:Random">Random</a></li>
    <li><a href="https://example.com/wiki/Elsewhere">External</a></li>
    <li><a href="/wiki/X">X</a></li>
  </ul>
  <h2><span class="mw-headline">Trivia</span></h2>
  <p><a href="/wiki/Higuma">Higuma</a> appears in a later section and is not a candidate here.</p>
</div>
</body>
</html>`

func TestParsePage(t *testing.T) {
	page, err := ParsePage([]byte(chapterPage), 1)
	require.NoError(t, err)

	assert.Equal(t, "Chapter 1", page.Title)
	assert.Equal(t, "Romance Dawn Arc", page.Arc)
	assert.Equal(t,
		"Luffy dreams of becoming King of the Pirates after meeting Shanks in the village. "+
			"Shanks loses his arm saving Luffy from a Sea King and gives him his straw hat.",
		page.Summary)

	require.NotNil(t, page.ReleasedAt)
	assert.Equal(t, 1997, page.ReleasedAt.Year())
	assert.Equal(t, time.July, page.ReleasedAt.Month())
	assert.Equal(t, 22, page.ReleasedAt.Day())

	assert.Equal(t, []domain.Candidate{
		{ExternalKey: "Monkey_D._Luffy", DisplayName: "Monkey D. Luffy"},
		{ExternalKey: "Shanks", DisplayName: "Shanks"},
	}, page.Candidates)
}

func TestParsePage_SummaryFallbacks(t *testing.T) {
	const plain = `<html><body>
<div class="mw-parser-output">
  <p>The first paragraph is long enough to be kept as summary.</p>
  <p>tiny</p>
  <h2>Summary</h2>
  <p>Zoro is introduced while tied to a post at the <a href="/wiki/Marine">Marine</a> base.
  <a href="/wiki/Roronoa_Zoro">Roronoa Zoro</a> meets <a href="/wiki/Monkey_D._Luffy">Luffy</a>.
  <a href="/wiki/Shells_Town_Village">Shells Town</a></p>
</div>
</body></html>`

	page, err := ParsePage([]byte(plain), 3)
	require.NoError(t, err)

	assert.Equal(t, "Chapter 3", page.Title)
	assert.Empty(t, page.Arc)
	assert.Nil(t, page.ReleasedAt)
	assert.Contains(t, page.Summary, "Zoro is introduced")
	assert.NotContains(t, page.Summary, "first paragraph")

	assert.Equal(t, []domain.Candidate{
		{ExternalKey: "Roronoa_Zoro", DisplayName: "Roronoa Zoro"},
		{ExternalKey: "Monkey_D._Luffy", DisplayName: "Luffy"},
	}, page.Candidates)
}

func TestParsePage_LeadingParagraphs(t *testing.T) {
	const lead = `<html><head><title>Chapter 9 | Wiki</title></head><body>
<div class="mw-parser-output">
  <p>Only a lead paragraph describes this chapter in detail.</p>
  <h2>Trivia</h2>
  <p>Trivia paragraphs are not part of the summary text.</p>
</div></body></html>`

	page, err := ParsePage([]byte(lead), 9)
	require.NoError(t, err)

	assert.Equal(t, "Chapter 9", page.Title)
	assert.Equal(t, "Only a lead paragraph describes this chapter in detail.", page.Summary)
	assert.Empty(t, page.Candidates)
}

func TestWikiKey(t *testing.T) {
	tests := []struct {
		href   string
		want   string
		wantOK bool
	}{
		{href: "/wiki/Nami", want: "Nami", wantOK: true},
		{href: "/wiki/Nami#Abilities", want: "Nami", wantOK: true},
		{href: "/wiki/Template:Char", wantOK: false},
		{href: "/wiki/", wantOK: false},
		{href: "/index.php?title=Nami", wantOK: false},
		{href: "https://other.org/wiki/Nami", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			got, ok := wikiKey(tt.href)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
