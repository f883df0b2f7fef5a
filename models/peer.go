package models

// ClientIdentity is the stable identity this device announces to the relay.
type ClientIdentity struct {
	ID          string `json:"clientId"`
	DisplayName string `json:"displayName"`
}

// PeerInfo describes one client connected to the relay, including self.
//
// IsSelf is derived locally from ClientIdentity.ID and is never trusted from the wire.
type PeerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IP          string `json:"ip,omitempty"`
	OS          string `json:"os,omitempty"`
	Browser     string `json:"browser,omitempty"`
	Device      string `json:"device,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`
	IsSelf      bool   `json:"isSelf,omitempty"`
}
