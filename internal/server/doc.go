// Package server implements the HTTP API and the realtime chat gateway.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients and their sessions, the event gateway, routing and
// HTTP handlers. The Hub owns every live connection and the room membership
// table; the Gateway turns inbound events into room directory and message
// log calls and fans the results out through the Hub.
package server

import "github.com/juju/loggo"

var logger = loggo.GetLogger("roomchat.server")
