// Package unix implements the Unix domain socket transport for dMsg links.
// It is the fastest option for peers on the same host since it avoids the TCP stack.
//
// The server connector removes a stale socket file before listening, the endpoint
// of both connectors is the socket path.
package unix
