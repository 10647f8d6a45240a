// Package tcp implements the TCP socket transport for dMsg links.
//
// Key Components:
//
//   - clientConnector: TCP implementation of transport.IClientConnector. Dials with
//     the configured timeout and tunes the socket before returning it.
//
//   - serverConnector: TCP implementation of transport.IServerConnector. The returned
//     listener tunes every accepted socket.
//
//   - UpgradeConnection: Applies TCP no delay, keep alive, linger and socket buffer
//     sizes from common.TransportConfig. The defaults disable Nagle's algorithm and
//     use 512 KB socket buffers, which suits the small frames of request/response
//     traffic as well as bulk raw data.
package tcp
