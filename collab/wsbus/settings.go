// Package wsbus carries collab envelopes over websockets: Client is a
// collab.Bus connected to a relay, and Hub is the relay, fanning envelopes
// out to the other clients of the same project.
package wsbus

import "time"

type Settings struct {
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingTimeout      time.Duration
	ReconnectTimeout time.Duration
	BufferSize       int
}

func DefaultSettings() *Settings {
	return &Settings{
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      15 * time.Second,
		PingTimeout:      5 * time.Second,
		ReconnectTimeout: time.Second,
		BufferSize:       256,
	}
}
