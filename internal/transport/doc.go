// Package transport connects remote clients to mixer sessions. Every
// transport maps one connection to one session and carries exactly one
// protocol packet per datagram or SRT message in each direction.
package transport
