// Package auth provides the credential used in the gateway connect
// handshake.
//
// The handshake carries a bearer token inside the connect request. Two
// sources exist:
//
//   - Static: a fixed token from config, typically issued by the gateway's
//     admin tooling.
//   - JWTMinter: a short-lived HS256 token minted per connect attempt from a
//     shared secret, with the operator's principal ID as the subject claim.
//
// Both implement TokenSource. The client asks for a token on every connect
// attempt, so reconnects after long outages never present an expired
// credential.
package auth
