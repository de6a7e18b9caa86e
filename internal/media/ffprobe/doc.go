// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe and returns a Result; failures carry services error
// markers so stage executors can tell a broken toolchain from broken media.
// RequireAudio is the minimum a recording must satisfy before it is
// segmented for speech-to-text.
package ffprobe
