//go:build !opus
// +build !opus

package stt

import "errors"

// NewOpusDecoder is unavailable without libopus; build with -tags opus to
// enable server-side recognition.
func NewOpusDecoder() (Decoder, error) {
	return nil, errors.New("opus support not compiled in (build with -tags opus)")
}
