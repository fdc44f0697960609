// Package tailnet dials gateways that only listen on a Tailscale network.
// It runs an in-process tsnet node and exposes a DialContext compatible
// with the websocket dialer's NetDialContext hook.
package tailnet
