// Package audio measures the loudness of remote Opus audio so callers can
// show a speaking indicator for the far end.
//
// A LevelMeter is fed raw RTP payloads from a remote track. Each payload is
// decoded with the pure Go pion/opus decoder and the peak sample becomes the
// current level in [0, 1]. Payloads the decoder cannot handle (CELT or hybrid
// frames) are counted and skipped without disturbing the last good level.
package audio
