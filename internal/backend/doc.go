// Package backend defines the Endpoint value that identifies one backend
// server. Endpoints are parsed from operator input, normalised so that two
// spellings of the same origin compare equal, and can build the reverse proxy
// used when requests are forwarded instead of redirected.
package backend
