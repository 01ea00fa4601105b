// Package core provides the caption dataset ingestion pipeline.
//
// It has no transport or storage dependencies; web handlers, the CLI and
// tests drive it through [Service] and an [ImageSink].
//
// # Formats
//
// Uploads are sniffed by [SniffReader]:
//
//   - COCO captions: a JSON object with "images" and "annotations" arrays.
//     The document is buffered and decoded once; the first caption of each
//     image (in annotation order) becomes the primary caption, the rest are
//     kept as additional captions.
//   - CSV: a header row with filename,url,width,height,prompt and optional
//     img_key, flickr_url, license columns. Rows are streamed.
//
// # Batches
//
// Parsers emit an ordered batch. Records missing a URL or caption are soft
// skipped and counted in a [SkipReport]; a duplicate image key or a batch
// with nothing left fails the whole ingestion. OrderIndex is assigned 1..N
// to accepted records in source order.
//
// # Ingestion
//
// [Service.IngestUpload] takes an upload slot, parses, takes the dataset lock
// and calls [ImageSink.ReplaceAllImages]. Every failure is an [*IngestError]
// and leaves the stored dataset unchanged:
//
//	res, err := svc.IngestUpload(ctx, "birds-v2", r)
//	if errors.Is(err, core.ErrEmptyResult) {
//	    // every record was skipped
//	}
//	fmt.Println(res.Summary())
//
// [MapError] turns any returned error into a coded, user-facing message.
package core
