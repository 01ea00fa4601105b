package core

import (
	"errors"
	"testing"
)

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://x/a.jpg", "a.jpg"},
		{"http://x/dir/b.png?size=large#frag", "b.png"},
		{"http://x/dir/", "dir"},
		{"http://x", ""},
		{"http://x/", ""},
		{"relative/path/c.jpg", "c.jpg"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := filenameFromURL(tt.url); got != tt.want {
				t.Errorf("filenameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestNormalizeRecord(t *testing.T) {
	secondary := "  "
	license := " CC0 "
	rec := ImageRecord{
		ImageKey:           "  k ",
		PrimaryURL:         " http://x/img.jpg ",
		SecondaryURL:       &secondary,
		Caption:            "\ta cat\n",
		AdditionalCaptions: []string{" one ", "", "   ", "two"},
		License:            &license,
	}

	normalizeRecord(&rec)

	if rec.ImageKey != "k" {
		t.Errorf("ImageKey = %q, want %q", rec.ImageKey, "k")
	}
	if rec.PrimaryURL != "http://x/img.jpg" {
		t.Errorf("PrimaryURL = %q", rec.PrimaryURL)
	}
	if rec.Filename != "img.jpg" {
		t.Errorf("Filename = %q, want img.jpg", rec.Filename)
	}
	if rec.SecondaryURL != nil {
		t.Errorf("blank SecondaryURL should become nil, got %q", *rec.SecondaryURL)
	}
	if rec.License == nil || *rec.License != "CC0" {
		t.Errorf("License = %v, want CC0", rec.License)
	}
	if rec.Caption != "a cat" {
		t.Errorf("Caption = %q, want %q", rec.Caption, "a cat")
	}
	if len(rec.AdditionalCaptions) != 2 || rec.AdditionalCaptions[0] != "one" || rec.AdditionalCaptions[1] != "two" {
		t.Errorf("AdditionalCaptions = %q, want [one two]", rec.AdditionalCaptions)
	}
}

func TestBatchBuilder(t *testing.T) {
	newBuilder := func() *batchBuilder {
		return newBatchBuilder(FormatCSV, buildParseOptions([]ParseOption{
			WithKeyGenerator(&seqKeys{}),
			WithSkipSampleSize(2),
		}))
	}

	t.Run("order index counts accepted records only", func(t *testing.T) {
		b := newBuilder()
		inputs := []ImageRecord{
			{PrimaryURL: "http://x/1.jpg", Caption: "one"},
			{PrimaryURL: "http://x/2.jpg"},
			{PrimaryURL: "http://x/3.jpg", Caption: "three", Width: -1},
			{PrimaryURL: "http://x/4.jpg", Caption: "four"},
		}
		for i, rec := range inputs {
			if err := b.add(i+1, "", rec); err != nil {
				t.Fatalf("add #%d: %v", i+1, err)
			}
		}

		res, err := b.finish("empty")
		if err != nil {
			t.Fatalf("finish: %v", err)
		}
		if len(res.Records) != 2 {
			t.Fatalf("got %d records, want 2", len(res.Records))
		}
		for i, rec := range res.Records {
			if rec.OrderIndex != i+1 {
				t.Errorf("record %d OrderIndex = %d", i, rec.OrderIndex)
			}
		}
		if res.Records[1].Caption != "four" {
			t.Errorf("second record = %q, want four", res.Records[1].Caption)
		}
		if res.Skipped.Total != 2 {
			t.Errorf("Skipped.Total = %d, want 2", res.Skipped.Total)
		}
		want := []string{"missing caption", "negative width"}
		for i, w := range res.Skipped.Samples {
			if w.Reason != want[i] {
				t.Errorf("skip %d reason = %q, want %q", i, w.Reason, want[i])
			}
		}
	})

	t.Run("generated keys are unique", func(t *testing.T) {
		b := newBuilder()
		for i := 1; i <= 5; i++ {
			if err := b.add(i, "", ImageRecord{PrimaryURL: "http://x/a.jpg", Caption: "a"}); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		seen := map[string]bool{}
		for _, rec := range b.records {
			if seen[rec.ImageKey] {
				t.Fatalf("duplicate generated key %q", rec.ImageKey)
			}
			seen[rec.ImageKey] = true
		}
	})

	t.Run("sample is capped but total is not", func(t *testing.T) {
		b := newBuilder()
		for i := 1; i <= 5; i++ {
			b.skip(i, "", "missing url")
		}
		if b.skipped.Total != 5 || len(b.skipped.Samples) != 2 {
			t.Errorf("Total=%d Samples=%d, want 5 and 2", b.skipped.Total, len(b.skipped.Samples))
		}
	})

	t.Run("empty batch fails", func(t *testing.T) {
		b := newBuilder()
		b.skip(1, "", "missing url")
		_, err := b.finish("nothing survived")
		if !errors.Is(err, ErrEmptyResult) {
			t.Fatalf("finish err = %v, want ErrEmptyResult", err)
		}
	})
}

func TestUUIDKeys(t *testing.T) {
	var g UUIDKeys
	a, b := g.NewKey(), g.NewKey()
	if a == "" || a == b {
		t.Errorf("NewKey returned %q and %q", a, b)
	}
}

func TestIngestResultSummary(t *testing.T) {
	tests := []struct {
		res  IngestResult
		want string
	}{
		{IngestResult{Inserted: 3}, "ingested 3 images"},
		{IngestResult{Inserted: 3, Skipped: 2}, "ingested 3 images; 2 images skipped"},
		{
			IngestResult{Inserted: 3, Skipped: 3, SkipReasons: map[string]int{"missing url": 2, "no caption": 1}},
			"ingested 3 images; 3 images skipped (no URL/caption)",
		},
		{
			IngestResult{Inserted: 1, Skipped: 1, SkipReasons: map[string]int{"invalid width": 1}},
			"ingested 1 images; 1 images skipped (invalid width: 1)",
		},
		{
			IngestResult{Inserted: 1, Skipped: 4, SkipReasons: map[string]int{
				"missing required field url": 1, "invalid width": 2, "invalid height": 1,
			}},
			"ingested 1 images; 4 images skipped (invalid width: 2, invalid height: 1, missing required field url: 1)",
		},
	}
	for _, tt := range tests {
		if got := tt.res.Summary(); got != tt.want {
			t.Errorf("Summary() = %q, want %q", got, tt.want)
		}
	}
}
