package metadata

import "testing"

func TestCleanFilename(t *testing.T) {
	cases := map[string]string{
		"Brandon Sanderson":      "Brandon Sanderson",
		"Book: The Return?!":     "Book The Return",
		"  trim me  ":            "trim me",
		"Vol. 1 (Special_Ed.)-x": "Vol. 1 (Special_Ed.)-x",
	}
	for in, want := range cases {
		if got := CleanFilename(in); got != want {
			t.Errorf("CleanFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeVolumeNumber(t *testing.T) {
	cases := map[string]string{
		"01":    "1",
		"1,2":   "1-2",
		"1-2":   "1-2",
		"007":   "7",
		" 3 ":   "3",
		"":      "",
		"0":     "0",
	}
	for in, want := range cases {
		if got := NormalizeVolumeNumber(in); got != want {
			t.Errorf("NormalizeVolumeNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTrackPadding(t *testing.T) {
	if TrackPadding(5) != 2 {
		t.Errorf("expected padding 2 for 5 tracks")
	}
	if TrackPadding(150) != 3 {
		t.Errorf("expected padding 3 for 150 tracks")
	}
	if TrackPadding(1200) != 4 {
		t.Errorf("expected padding 4 for 1200 tracks")
	}
}

func TestPadTrackNumber(t *testing.T) {
	if got := PadTrackNumber(1, 5); got != "01" {
		t.Errorf("PadTrackNumber(1, 5) = %q, want 01", got)
	}
	if got := PadTrackNumber(12, 500); got != "012" {
		t.Errorf("PadTrackNumber(12, 500) = %q, want 012", got)
	}
}

func TestOPFRoundTrip(t *testing.T) {
	template := `<?xml version="1.0"?>
<package><metadata>
<dc:title>__TITLE__</dc:title>
<dc:creator opf:role="aut">__AUTHOR__</dc:creator>
<dc:creator opf:role="nrt">__NARRATOR__</dc:creator>
<dc:language>__LANGUAGE__</dc:language>
<dc:description>__SUMMARY__</dc:description>
<dc:source>__SOURCE__</dc:source>
<identifier scheme="ISBN">__ISBN__</identifier>
<meta name="ASIN" content="__ASIN__"/>
<meta name="calibre:series" content="__SERIES__"/>
<meta name="calibre:series_index" content="__VOLUMENUMBER__"/>
__GENRES__
</metadata></package>`

	m := &BookMetadata{
		Title:        "The Way of Kings",
		Author:       "Brandon Sanderson",
		Narrator:     "Michael Kramer",
		Language:     "eng",
		Summary:      "A tale of & adventure",
		URL:          "https://example.com/book",
		ISBN:         "9780765326355",
		ASIN:         "B003XNYXT8",
		Series:       "The Stormlight Archive",
		VolumeNumber: "1",
		Genres:       []string{"fantasy", "epic"},
	}

	dir := t.TempDir()
	path := dir + "/metadata.opf"
	if err := WriteOPF(path, template, m); err != nil {
		t.Fatalf("WriteOPF: %v", err)
	}

	got, err := ReadOPF(path)
	if err != nil {
		t.Fatalf("ReadOPF: %v", err)
	}

	if got.Title != m.Title || got.Author != m.Author || got.ISBN != m.ISBN ||
		got.Series != m.Series || got.VolumeNumber != m.VolumeNumber || got.Language != m.Language {
		t.Fatalf("round-trip mismatch: got %+v, want fields from %+v", got, m)
	}

	wantGenres := map[string]bool{"fantasy": true, "epic": true}
	if len(got.Genres) != len(wantGenres) {
		t.Fatalf("expected %d genres, got %v", len(wantGenres), got.Genres)
	}
	for _, g := range got.Genres {
		if !wantGenres[g] {
			t.Errorf("unexpected genre %q", g)
		}
	}
}
