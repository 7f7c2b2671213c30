// Package proxy implements transport mode. Server pairs each accepted client
// connection with one backend connection and relays bytes between them;
// Registrar is the side channel through which backends join the pool.
package proxy
