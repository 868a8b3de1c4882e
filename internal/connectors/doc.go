// Package connectors provides the source fetchers that turn a source
// reference into raw documents. The web fetcher handles http(s) references
// (pages, sitemaps and single files); the filesystem connector handles
// local files, directories and globs.
//
// Router picks between them and is what the ingest service depends on.
package connectors
