// Package link implements the connection session engine of dMsg: one peer to peer
// link over a duplex byte stream, framed with lib/frame.
//
// Lifecycle:
//
//	NewConnection -> Initialize -> ... -> Close / remote EOF / I/O error
//	Created       -> Initialized -> Connected -> Disconnecting -> Closed
//
// Initialize optionally negotiates TLS through transport.Secure (none, full TLS or
// authentication only followed by plaintext), then starts exactly one read loop and
// one write loop. Every way out (read EOF, read or write error, protocol error,
// Close) ends in HandleRemoteDisconnect, which runs once: it closes the transport,
// stops the loops, fails every queued send, pending request, receive, filter and
// raw receive with the cause, fires the OnDisconnected callbacks and unregisters
// from the dispatch pool. Sends are refused from the moment teardown starts. Close
// called while another teardown runs, for example from an OnDisconnected callback,
// returns once every future has failed. A Connection is never reused.
//
// Write path:
//
//	Send, SendWait, SendRaw and every response append to one FIFO (eapache/queue
//	under a mutex). The write loop drains it, drives the frame.Encoder with
//	FillSendBuffer / OnSendCompleted until each frame is flushed and completes the
//	frame's handle. Frames reach the wire in enqueue order. A payload that cannot be
//	encoded fails alone, a failed write tears the connection down.
//
// Read path and dispatch:
//
//	The read loop feeds every chunk to the frame.Decoder. Responses are resolved
//	inline on the read loop through the pending table. All other frames are
//	dispatched either inline or on a DispatchPool with the connection id as
//	discriminator, which keeps the frames of one connection in order:
//
//	  - request: the oldest ReceiveRequest awaiter of the payload type wins,
//	    otherwise the request takes the general path below. If nobody called
//	    MarkHandled or Respond, an empty response is sent so the requester never hangs
//	  - content: all one shot Receive futures of the type, then ReceiveWhere
//	    filters in registration order (false or panic keeps a filter registered),
//	    then persistent handlers in registration order, then OnPayloadReceived
//
//	Handler panics and errors are recovered per handler as *HandlerError, logged
//	and counted, and never stop the fan out.
//
// Correlation:
//
//	Request ids and raw buffer ids come from process wide atomic counters, ids are
//	unique for the lifetime of any correlation table. Pending requests live in an
//	xsync.MapOf keyed by request id; response, cancellation, timeout and teardown
//	race through LoadAndDelete, so exactly one of them completes the request and a
//	duplicate or late response is ignored. Subscriptions are bucketed per payload
//	type, each bucket with its own lock.
//
// Telemetry:
//
//	Frames, bytes, requests, automatic replies, handler errors and disconnects are
//	counted through hashicorp/go-metrics (WithMetricSink, default metrics.Default())
//	with a conn_id label.
package link
