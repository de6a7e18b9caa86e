// Package ffmpeg wraps the ffmpeg invocations rivalcast needs: live capture
// with machine-readable progress, normalization to mp4, and splitting a
// recording into mono 16 kHz audio chunks for speech-to-text.
//
// Outputs are written beside their final location and renamed into place
// only after ffmpeg exits cleanly, so a crash or cancellation never leaves a
// file that later stages would mistake for a finished product.
package ffmpeg
