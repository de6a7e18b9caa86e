// Package recording tracks live capture sessions of video files.
//
// The Tracker owns the recording state machine (pending, recording and the
// terminal completed, failed and stopped states) and the heartbeat rules: a
// progress event is only accepted while recording and never moves elapsed
// time backwards. The Supervisor runs ffmpeg captures for files that have a
// source URL and feeds their progress into the Tracker; external capture
// processes report through the same Heartbeat operation.
package recording
