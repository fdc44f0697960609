// ABOUTME: Handshake payload types for the connect challenge/response exchange
// ABOUTME: Challenge event, connect request params, and the hello-ok payload

package protocol

// EventChallenge is the event the server pushes immediately after the
// transport opens. The client answers it with a connect request.
const EventChallenge = "connect.challenge"

// MethodConnect is the handshake request method.
const MethodConnect = "connect"

// MethodHealth is the lightweight request used for keepalive ticks.
const MethodHealth = "health"

// RoleOperator is the permission class this client requests at handshake,
// as distinct from the "node" role agents use.
const RoleOperator = "operator"

// Challenge is the payload of a connect.challenge event. The nonce and
// timestamp are echoed back for server-side bookkeeping; the client does not
// interpret them otherwise.
type Challenge struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// ClientInfo identifies the connecting client to the server.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// ConnectParams is the body of the connect request.
type ConnectParams struct {
	MinProtocol  int         `json:"minProtocol"`
	MaxProtocol  int         `json:"maxProtocol"`
	Client       ClientInfo  `json:"client"`
	Role         string      `json:"role"`
	Scopes       []string    `json:"scopes,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Auth         ConnectAuth `json:"auth"`
	Nonce        string      `json:"nonce,omitempty"`
}

// ConnectAuth carries the bearer credential inside the connect request.
type ConnectAuth struct {
	Token string `json:"token"`
}

// Hello is the hello-ok payload on a successful connect response.
type Hello struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Snapshot *Snapshot    `json:"snapshot,omitempty"`
	Defaults SessionDefs  `json:"defaults"`
	Policy   ServerPolicy `json:"policy"`
}

// ServerInfo identifies the gateway instance.
type ServerInfo struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// Features advertises the methods and events this server supports.
type Features struct {
	Methods []string `json:"methods,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// Snapshot is the presence/health state at handshake time, versioned by the
// same counters that later events carry.
type Snapshot struct {
	Presence     any           `json:"presence,omitempty"`
	Health       any           `json:"health,omitempty"`
	StateVersion *StateVersion `json:"stateVersion,omitempty"`
}

// SessionDefs are the server-advertised defaults for addressing chat
// sessions implicitly.
type SessionDefs struct {
	AgentID        string `json:"agentId,omitempty"`
	MainSessionKey string `json:"mainSessionKey,omitempty"`
}

// ServerPolicy carries server-side limits, including the keepalive interval.
type ServerPolicy struct {
	TickIntervalMs  int `json:"tickIntervalMs,omitempty"`
	MaxPayloadBytes int `json:"maxPayloadBytes,omitempty"`
}
