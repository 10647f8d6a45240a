// Package common provides the configuration structures and logging setup shared
// by all dMsg packages.
//
// Key Components:
//
//   - ConnectionConfig: Per link parameters such as read and send buffer sizes,
//     the default request timeout, the content length limit and the dispatch mode.
//
//   - PoolConfig: Bounds and timing parameters of the adaptive worker pool.
//     Validate reports inconsistent values before a pool is created.
//
//   - TransportConfig: Endpoint, socket tuning (TCP no delay, keep alive, linger,
//     buffer sizes) and the security mode with its certificate files.
//
//   - MetricsConfig: Service name of the link telemetry and the optional Prometheus
//     endpoint.
//
//   - Config: Bundles all of the above and is what `dmsg config` renders as TOML.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's logger
//     registry (logger.GetLogger) and prints `LEVEL | package | message` lines.
//     InitLoggers sets the level of every dMsg package logger at once.
//
// Every struct has a Default...Config constructor and a String method that renders
// an aligned, human readable overview used in startup logs.
package common
