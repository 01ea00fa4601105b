package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvHeader = "filename,url,width,height,prompt\n"

func TestParseCSV_SingleRow(t *testing.T) {
	input := csvHeader + `cat.jpg,http://x/cat.jpg,256,256,"a cat"` + "\n"

	res, err := ParseCSV(context.Background(), strings.NewReader(input), WithKeyGenerator(&seqKeys{}))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, FormatCSV, res.Format)
	assert.Equal(t, 1, rec.OrderIndex)
	assert.Equal(t, "key-1", rec.ImageKey)
	assert.Equal(t, "a cat", rec.Caption)
	assert.Equal(t, "cat.jpg", rec.Filename)
	assert.Equal(t, "http://x/cat.jpg", rec.PrimaryURL)
	assert.Equal(t, 256, rec.Width)
	assert.Equal(t, 256, rec.Height)
	assert.NotNil(t, rec.AdditionalCaptions)
	assert.Empty(t, rec.AdditionalCaptions)
	assert.Nil(t, rec.ExternalImageID)
}

func TestParseCSV_RowRejection(t *testing.T) {
	input := csvHeader +
		"a.jpg,http://x/a.jpg,64,64,first\n" +
		"b.jpg,http://x/b.jpg,,64,missing width\n" +
		"c.jpg,http://x/c.jpg,sixty,64,bad width\n" +
		"d.jpg,http://x/d.jpg,64,-2,negative height\n" +
		"e.jpg,,64,64,missing url\n" +
		"f.jpg,http://x/f.jpg,64,64,   \n" +
		",,,,\n" +
		"g.jpg,http://x/g.jpg,64.0,63,last\n"

	res, err := ParseCSV(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	assert.Equal(t, "first", res.Records[0].Caption)
	assert.Equal(t, 1, res.Records[0].OrderIndex)
	assert.Equal(t, "last", res.Records[1].Caption)
	assert.Equal(t, 2, res.Records[1].OrderIndex)
	assert.Equal(t, 64, res.Records[1].Width)
	assert.Equal(t, 1, res.DimensionWarnings)

	assert.Equal(t, 5, res.Skipped.Total, "blank row is not a skip")
	reasons := make([]string, len(res.Skipped.Samples))
	for i, w := range res.Skipped.Samples {
		reasons[i] = w.Reason
	}
	assert.Equal(t, []string{
		"missing required field width",
		"invalid width",
		"invalid height",
		"missing required field url",
		"missing required field prompt",
	}, reasons)
	assert.Equal(t, 3, res.Skipped.Samples[0].Position, "line numbers count the header")
	assert.Equal(t, "b.jpg", res.Skipped.Samples[0].Ref)
}

func TestParseCSV_HeaderHandling(t *testing.T) {
	input := "\ufeff Prompt ,URL,Width,HEIGHT,FileName,extra,IMG_KEY\n" +
		"a cat,http://x/a.jpg,2,2,a.jpg,ignored,my-key\n"

	res, err := ParseCSV(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	assert.Equal(t, "my-key", res.Records[0].ImageKey)
	assert.Equal(t, "a cat", res.Records[0].Caption)
	assert.Equal(t, "a.jpg", res.Records[0].Filename)
}

func TestParseCSV_QuotedFields(t *testing.T) {
	input := csvHeader + "\"a, b.jpg\",http://x/ab.jpg,8,8,\"a cat, \"\"quoted\"\"\nsecond line\"\n"

	res, err := ParseCSV(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "a, b.jpg", res.Records[0].Filename)
	assert.Equal(t, "a cat, \"quoted\"\nsecond line", res.Records[0].Caption)
}

func TestParseCSV_DuplicateImageKey(t *testing.T) {
	input := "filename,url,width,height,prompt,img_key\n" +
		"a.jpg,http://x/a.jpg,2,2,a,k1\n" +
		"b.jpg,http://x/b.jpg,2,2,b,k2\n" +
		"c.jpg,http://x/c.jpg,2,2,c,k1\n"

	res, err := ParseCSV(context.Background(), strings.NewReader(input))
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrDuplicateKey)

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "k1", dup.Key)
	assert.Equal(t, 2, dup.FirstPosition)
	assert.Equal(t, 4, dup.SecondPosition)
}

func TestParseCSV_Failures(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    error
		message string
	}{
		{"empty file", "", ErrStructuralFormat, "no header row"},
		{"missing columns", "filename,url,prompt\na,b,c\n", ErrStructuralFormat, "width, height"},
		{"header only", csvHeader, ErrEmptyResult, "no data rows"},
		{"only blank rows", csvHeader + ",,,,\n\n", ErrEmptyResult, "no data rows"},
		{"all rows skipped", csvHeader + "a.jpg,,1,1,x\n", ErrEmptyResult, "every row was missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseCSV(context.Background(), strings.NewReader(tt.input))
			assert.Nil(t, res)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParseCSV_ReadError(t *testing.T) {
	r := io.MultiReader(
		strings.NewReader(csvHeader+"a.jpg,http://x/a.jpg,2,2,a\n"),
		iotest.ErrReader(errors.New("connection reset by peer")),
	)

	res, err := ParseCSV(context.Background(), r)
	assert.Nil(t, res, "no partial batch")
	require.ErrorIs(t, err, ErrStructuralFormat)
	assert.Contains(t, err.Error(), "invalid csv")
}

func TestParseCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ParseCSV(ctx, strings.NewReader(csvHeader+"a.jpg,http://x/a.jpg,1,1,x\n"))
	require.ErrorIs(t, err, ErrStructuralFormat)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanCSV(t *testing.T) {
	input := csvHeader +
		"a.jpg,http://x/a.jpg,2,2,a\n" +
		"b.jpg,,2,2,b\n" +
		"c.jpg,http://x/c.jpg,2,2,c\n"

	var got []ImageRecord
	res, err := ScanCSV(context.Background(), strings.NewReader(input), func(rec ImageRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, res.Records)
	assert.Equal(t, 1, res.Skipped.Total)
	require.Len(t, got, 2)
	assert.Equal(t, []int{1, 2}, []int{got[0].OrderIndex, got[1].OrderIndex})

	t.Run("callback error stops scan", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		_, err := ScanCSV(context.Background(), strings.NewReader(input), func(ImageRecord) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil callback", func(t *testing.T) {
		_, err := ScanCSV(context.Background(), strings.NewReader(input), nil)
		assert.Error(t, err)
	})
}

func TestParseDimension(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"512", 512, true},
		{"0", 0, true},
		{"512.0", 512, true},
		{"512.5", 0, false},
		{"-1", 0, false},
		{"-1.0", 0, false},
		{"abc", 0, false},
		{"1e3", 1000, true},
	}
	for _, tt := range tests {
		got, ok := parseDimension(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseDimension(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
