// Package asr talks to an OpenAI-compatible speech-to-text endpoint
// (POST multipart/form-data with a "file" part) and returns plain transcripts
// for audio segments.
package asr
