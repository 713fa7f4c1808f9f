//go:build opus
// +build opus

package stt

import "github.com/hraban/opus"

// NewOpusDecoder returns a libopus decoder for 48 kHz mono frames.
func NewOpusDecoder() (Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, err
	}
	return dec, nil
}
