package models

// InboundNotification is the most recent unicast or broadcast payload directed at this client.
type InboundNotification struct {
	Message  string        `json:"message"`
	From     PeerInfo      `json:"from"`
	DataType string        `json:"dataType,omitempty"`
	Data     []DecodedFile `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// URLs returns the blob URLs owned by this notification.
func (n *InboundNotification) URLs() []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Data))
	for _, file := range n.Data {
		if file.URL != "" {
			out = append(out, file.URL)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand to consumers.
func (n *InboundNotification) Clone() *InboundNotification {
	if n == nil {
		return nil
	}
	out := *n
	out.Data = append([]DecodedFile(nil), n.Data...)
	return &out
}
