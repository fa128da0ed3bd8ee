// Package discovery advertises the IOC on the local network with
// DNS-SD over mDNS, so operator tools can find the HTTP API without a
// configured address.
//
// The service type is _fpsioc._tcp. TXT records carry the API version
// path, the SDK in use and the configured port names.
package discovery
