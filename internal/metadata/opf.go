package metadata

import (
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/beevik/etree"
)

// OPF placeholder tokens, substituted exactly once each. Carried over
// verbatim from the template contract; __GENRES__ expands to zero or more
// <dc:subject> elements rather than a scalar value.
const (
	phAuthor       = "__AUTHOR__"
	phTitle        = "__TITLE__"
	phSummary      = "__SUMMARY__"
	phSubtitle     = "__SUBTITLE__"
	phNarrator     = "__NARRATOR__"
	phPublisher    = "__PUBLISHER__"
	phPublishYear  = "__PUBLISHYEAR__"
	phLanguage     = "__LANGUAGE__"
	phISBN         = "__ISBN__"
	phASIN         = "__ASIN__"
	phSeries       = "__SERIES__"
	phVolumeNumber = "__VOLUMENUMBER__"
	phSource       = "__SOURCE__"
	phGenres       = "__GENRES__"
)

// WriteOPF fills template with m's fields, XML-escaping every substituted
// value, and writes the result to path.
func WriteOPF(path, template string, m *BookMetadata) error {
	out := template
	out = replaceOnce(out, phAuthor, m.Author)
	out = replaceOnce(out, phTitle, m.Title)
	out = replaceOnce(out, phSummary, m.Summary)
	out = replaceOnce(out, phSubtitle, m.Subtitle)
	out = replaceOnce(out, phNarrator, m.Narrator)
	out = replaceOnce(out, phPublisher, m.Publisher)
	out = replaceOnce(out, phPublishYear, m.PublicationDate())
	out = replaceOnce(out, phLanguage, m.Language)
	out = replaceOnce(out, phISBN, m.ISBN)
	out = replaceOnce(out, phASIN, m.ASIN)
	out = replaceOnce(out, phSeries, m.Series)
	out = replaceOnce(out, phVolumeNumber, m.VolumeNumber)
	out = replaceOnce(out, phSource, m.URL)
	out = strings.Replace(out, phGenres, genresXML(m.Genres), 1)

	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("metadata: write opf %q: %w", path, err)
	}
	return nil
}

func replaceOnce(s, placeholder, value string) string {
	return strings.Replace(s, placeholder, html.EscapeString(value), 1)
}

func genresXML(genres []string) string {
	var b strings.Builder
	for _, g := range genres {
		b.WriteString("<dc:subject>")
		b.WriteString(html.EscapeString(g))
		b.WriteString("</dc:subject>")
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ReadOPF parses an existing metadata.opf, extracting the calibre/dc
// namespaced fields the pipeline understands. Unlike WriteOPF, which is a
// pure template substitution, reading requires a real XML parse because the
// file may have been produced by another tool.
func ReadOPF(path string) (*BookMetadata, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("metadata: parse opf %q: %w", path, err)
	}
	root := doc.SelectElement("package")
	if root == nil {
		return nil, fmt.Errorf("metadata: opf %q has no <package> root", path)
	}
	md := root.SelectElement("metadata")
	if md == nil {
		return nil, fmt.Errorf("metadata: opf %q has no <metadata>", path)
	}

	m := &BookMetadata{}
	m.Title = firstText(md, "title")
	m.Language = firstText(md, "language")
	m.Summary = firstText(md, "description")
	m.Publisher = firstText(md, "publisher")
	m.ASIN = metaContent(md, "ASIN")
	if m.ASIN == "" {
		m.ASIN = metaContent(md, "Identifier", "scheme", "ASIN")
	}
	m.ISBN = identifierByScheme(md, "ISBN")
	m.URL = firstText(md, "source")
	m.Series = metaContent(md, "calibre:series")
	m.VolumeNumber = metaContent(md, "calibre:series_index")

	for _, e := range md.SelectElements("creator") {
		role := e.SelectAttrValue("role", "")
		switch role {
		case "", "aut":
			if m.Author == "" {
				m.Author = e.Text()
			} else {
				m.AdditionalAuthors = append(m.AdditionalAuthors, e.Text())
			}
		case "nrt":
			if m.Narrator == "" {
				m.Narrator = e.Text()
			} else {
				m.AdditionalNarrators = append(m.AdditionalNarrators, e.Text())
			}
		}
	}

	for _, e := range md.SelectElements("subject") {
		if t := strings.TrimSpace(e.Text()); t != "" {
			m.Genres = append(m.Genres, t)
		}
	}

	return m, nil
}

func firstText(md *etree.Element, tag string) string {
	if e := md.SelectElement(tag); e != nil {
		return strings.TrimSpace(e.Text())
	}
	return ""
}

// metaContent reads <meta name="X" content="Y"/> or, with extra key/value
// args, <meta name="X" key="value" content="Y"/>-shaped calibre extensions.
func metaContent(md *etree.Element, name string, kv ...string) string {
	for _, e := range md.SelectElements("meta") {
		if e.SelectAttrValue("name", "") != name {
			continue
		}
		if len(kv) == 2 && e.SelectAttrValue(kv[0], "") != kv[1] {
			continue
		}
		return e.SelectAttrValue("content", "")
	}
	return ""
}

func identifierByScheme(md *etree.Element, scheme string) string {
	for _, e := range md.SelectElements("identifier") {
		if strings.EqualFold(e.SelectAttrValue("scheme", ""), scheme) {
			return strings.TrimSpace(e.Text())
		}
	}
	return ""
}

// SourceURL returns the dc:source URL an OPF was produced from, empty if
// absent — used by the pipeline's OPF-supplement stage (§4.5 step 4).
func (m *BookMetadata) SourceURL() string {
	return m.URL
}
