// Package media downloads photos and documents referenced by saved
// items into a dated directory layout on local disk.
//
// Files land under <base>/YYYY/MM/DD/<externalID>_<name><ext>, written
// atomically via a temporary file. A JSON sidecar with the download
// provenance can be written next to each file.
//
// Downloads are bounded by per-kind timeouts so a stalled CDN transfer
// never blocks an extraction run. Callers treat a failed download as a
// missing file, not a failed item.
package media
