// Package fileutil holds the file helpers shared by stage executors:
// temporary-sibling commits for tool outputs, durable atomic writes and
// verified copies used when a finished capture is adopted as a download.
package fileutil
