// Package preflight provides readiness checks for the media tools,
// directories, disk space and external services rivalcast depends on.
//
// The daemon runs RunAll at startup and logs failures; the download and
// transcode stages call EnsureFreeSpace before writing large files. The CLI
// "rivalcast health" command renders the same results.
package preflight
