// Package ingest relays browser-captured media into an RTMP publish.
//
// A publisher connects over WebSocket, authenticates with an ingest token,
// and streams binary container chunks. Each connection owns one Session,
// which pipes the chunks into a single ffmpeg process publishing to the
// media server under the user's stream key.
//
// Lifecycle
//
//   - The Gateway upgrades the connection and resolves the token through the
//     catalog. A token that does not resolve leaves the socket open but the
//     media goes nowhere; the peer learns nothing about why.
//
//   - The ffmpeg process is started lazily on the first media chunk, so a
//     connection that never sends media never spawns a process. Chunks that
//     arrive before the process is up are buffered and flushed in order.
//
//   - A "stop-stream" text frame, a socket close, or manager shutdown all
//     stop the encoder gracefully (SIGINT) and wait for it to drain. Exits
//     caused by a requested stop are not reported as failures.
//
//   - If the process dies mid-broadcast the next chunk spawns a fresh one,
//     so a transient ffmpeg crash costs a keyframe, not the session.
//
// The Manager tracks every live Session and stops them all on shutdown.
package ingest
