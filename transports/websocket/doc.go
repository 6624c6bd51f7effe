// Package websocket carries bridge frames over a WebSocket connection.
//
// The Launcher is the calling half: it dials the bridge URL and feeds every
// text message it reads to the bridge router. Server is the remote half: it
// upgrades the connection, announces readiness and answers requests with a
// remote.Responder.
package websocket
