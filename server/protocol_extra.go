package server

import "github.com/vortexaudio/graphd/bufferpool"

// PortTypeListFrame streams the pool's known port types to a newly-loaded
// external client, right after its HandshakeReply (spec §4.7).
type PortTypeListFrame struct {
	Types []bufferpool.NewPortType
}
