// Package types defines the domain types shared by the livefeed packages.
package types

// Version is the canonical project version.
// The CLI and the client identifier sent to the gateway share this version.
const Version = "0.3.0"

// ClientName prefixes the client identifier sent during authentication.
const ClientName = "livefeed-go"

// ClientID returns the identifier sent as the client= field of the auth request.
func ClientID() string {
	return ClientName + " " + Version
}
