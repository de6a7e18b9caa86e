// Package download implements the first pipeline stage: getting a
// participant's recording onto local disk.
//
// A live file adopts the capture written by the recording supervisor once
// the recording has stopped. A file with a source URL is fetched over HTTP
// into a pending sibling that is renamed into place only after the body has
// been fully written and synced. Either way the result is probed before it
// is accepted, and a previously accepted file is reused without refetching.
package download
