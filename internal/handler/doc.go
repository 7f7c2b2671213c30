// Package handler contains the HTTP adapters of the balancer: the
// client-facing dispatch handler that redirects or forwards each request to a
// healthy origin, and the control handler through which origins register
// themselves.
package handler
