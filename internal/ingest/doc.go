// Package ingest serves the framed TCP ingestion stream.
//
// Service accepts connections and runs one Handler per connection. A Handler
// owns a frame.Decoder, reads with an idle deadline, throttles reads while
// undecoded bytes exceed Config.SoftLimit, drops the client once they exceed
// Config.HardLimit, and hands every decoded payload to a Dispatcher in
// arrival order. Connections share no state beyond the service registry used
// for snapshots.
package ingest
