package models

// FileMeta is the name/type pair announced before file bytes are available.
type FileMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// EncodedFile is one file of an outbound or inbound batch in transport form.
//
// Base64 holds a data URL ("data:<mime>;base64,<payload>").
type EncodedFile struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Base64 string `json:"base64"`
}

// DecodedFile is a received file after reassembly.
//
// URL is a local blob reference allocated by the transfer pipeline; it stays valid
// until the owning notification is cleared or replaced.
type DecodedFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
}
