// Package gribidx builds byte-range indexes for GRIB2 archive files from
// their sidecar .idx files, so a reader can fetch a single variable at a
// single level and step without parsing the whole archive.
//
// A GRIB2 file stores many independently-compressed messages back to back.
// The sidecar lists one line per message with its byte offset and a weak
// textual descriptor. Neither side carries a designed primary key, so this
// package reconciles the two: it decodes one representative file to get full
// structured metadata per message, joins that to the sidecar records by
// message ordinal, and re-keys the result on the sidecar attribute string.
// The resulting [Mapping] describes the horizon (the structural layout shared
// by all files of a forecast configuration) and can then index any other file
// of the same horizon from its sidecar alone.
//
// # Quick Start
//
// Build a mapping once from a representative file:
//
//	dec := grib.NewScanner()
//	mapping, err := gribidx.BuildMapping("gfs.t00z.pgrb2.0p25.f006",
//	    gribidx.MappingWithDecoder(dec),
//	)
//
// Index any other file of the same horizon cheaply, many times:
//
//	records, err := gribidx.ParseIdx("gfs.t12z.pgrb2.0p25.f006")
//	rows, err := gribidx.MapFromIndex(runTime, mapping, records)
//
// Fetch the bytes of one message through the index:
//
//	data, err := gribidx.FetchChunk(gribidx.FileSource{}, rows[0])
//
// Mappings are plain values; callers own caching and reuse. [SaveMapping]
// and [LoadMapping] provide a JSON (optionally zstd-compressed) format for
// persisting them between runs.
package gribidx
