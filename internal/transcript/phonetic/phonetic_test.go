package phonetic_test

import (
	"testing"

	"github.com/MrWong99/guru/internal/transcript/phonetic"
)

func TestDetector_Score(t *testing.T) {
	t.Parallel()

	d := phonetic.NewDetector([]string{"Guru", "Neighbor", "Gurú"})

	tests := []struct {
		name      string
		phrase    string
		wantName  string
		wantMatch bool
		minScore  float64
	}{
		{name: "exact, case-insensitive", phrase: "GURU", wantName: "Guru", wantMatch: true, minScore: 1},
		{name: "accented alias", phrase: "GURÚ", wantName: "Gurú", wantMatch: true, minScore: 1},
		{name: "combining accent", phrase: "guru\u0301", wantName: "Gurú", wantMatch: true, minScore: 1},
		{name: "misheard vowel", phrase: "guroo", wantName: "Guru", wantMatch: true, minScore: 0.7},
		{name: "split into two words", phrase: "neigh bor", wantName: "Neighbor", wantMatch: true, minScore: 0.7},
		{name: "unrelated word", phrase: "weather"},
		{name: "blank phrase", phrase: "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, score, ok := d.Score(tt.phrase)
			if ok != tt.wantMatch {
				t.Fatalf("Score(%q): ok=%v, want %v (score %f)", tt.phrase, ok, tt.wantMatch, score)
			}
			if got != tt.wantName {
				t.Errorf("Score(%q): name=%q, want %q", tt.phrase, got, tt.wantName)
			}
			if !ok && score != 0 {
				t.Errorf("Score(%q) = %f on miss, want 0", tt.phrase, score)
			}
			if ok && score < tt.minScore {
				t.Errorf("Score(%q) = %f, want >= %f", tt.phrase, score, tt.minScore)
			}
		})
	}
}

func TestDetector_Thresholds(t *testing.T) {
	t.Parallel()

	strict := phonetic.NewDetector([]string{"Guru"},
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, ok := strict.Score("guroo"); ok {
		t.Error("near-match accepted with 0.99 thresholds")
	}
	if _, score, ok := strict.Score("guru"); !ok || score != 1 {
		t.Errorf("exact match under strict thresholds = %v %f", ok, score)
	}
}

func TestDetector_Detect(t *testing.T) {
	t.Parallel()

	d := phonetic.NewDetector([]string{"Guru", " "})

	tests := []struct {
		line      string
		wantMatch bool
		wantHeard string
	}{
		{line: "Guru, what's the weather like today?", wantMatch: true, wantHeard: "Guru"},
		{line: "hey guru!", wantMatch: true, wantHeard: "guru"},
		{line: "okay guroo can you help me", wantMatch: true, wantHeard: "guroo"},
		{line: "what a good day it is", wantMatch: false},
		{line: "go to the store", wantMatch: false},
		{line: "", wantMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			got := d.Detect(tt.line)
			if got.Matched != tt.wantMatch {
				t.Fatalf("Detect(%q) = %+v, want matched=%v", tt.line, got, tt.wantMatch)
			}
			if !tt.wantMatch {
				return
			}
			if got.Name != "Guru" {
				t.Errorf("Name = %q, want Guru", got.Name)
			}
			if got.Heard != tt.wantHeard {
				t.Errorf("Heard = %q, want %q", got.Heard, tt.wantHeard)
			}
		})
	}
}

func TestDetector_NonLatinAlias(t *testing.T) {
	t.Parallel()

	d := phonetic.NewDetector([]string{"Guru", "गुरु"})
	got := d.Detect("गुरु, आज मौसम कैसा है?")
	if !got.Matched || got.Name != "गुरु" || got.Score != 1 {
		t.Errorf("Detect = %+v, want exact match on alias", got)
	}
}

func TestDetector_NoNames(t *testing.T) {
	t.Parallel()

	d := phonetic.NewDetector(nil)
	if got := d.Detect("guru"); got.Matched {
		t.Errorf("Detect with no names = %+v, want no match", got)
	}
	if len(d.Names()) != 0 {
		t.Errorf("Names() = %v, want empty", d.Names())
	}
}
