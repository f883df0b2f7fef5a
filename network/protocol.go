package network

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"lanshare/models"
)

const (
	// MaxFrameSize bounds one inbound websocket message (64 MB).
	MaxFrameSize = 64 * 1024 * 1024
)

// Envelope and roster event types.
const (
	TypeBroadcast  = "broadcast"
	TypeUnicast    = "unicast"
	TypePeers      = "peers"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
)

// Content data types.
const (
	DataTypeText         = "text"
	DataTypeLoadingFiles = "loading-files"
	DataTypeFiles        = "files"
	DataTypeFile         = "file"
	// DataTypeFilesFailed is local only; it marks a placeholder whose batch never arrived.
	DataTypeFilesFailed = "files-failed"
)

var (
	// ErrMalformedFrame indicates an inbound frame is not a JSON object.
	ErrMalformedFrame = errors.New("network: malformed frame")
	// ErrInvalidPayload indicates a frame's typed payload could not be decoded.
	ErrInvalidPayload = errors.New("network: invalid payload")
	// ErrInvalidEnvelope indicates an outbound envelope failed validation.
	ErrInvalidEnvelope = errors.New("network: invalid envelope")
	// ErrInvalidHandshake indicates a handshake without a client id.
	ErrInvalidHandshake = errors.New("network: invalid handshake")
)

var validate = validator.New()

// ProtocolParseError reports a dropped inbound frame.
type ProtocolParseError struct {
	FrameType string
	DataType  string
	Err       error
}

func (e *ProtocolParseError) Error() string {
	switch {
	case e.DataType != "":
		return fmt.Sprintf("parse %s frame (dataType %q): %v", e.FrameType, e.DataType, e.Err)
	case e.FrameType != "":
		return fmt.Sprintf("parse %s frame: %v", e.FrameType, e.Err)
	default:
		return fmt.Sprintf("parse frame: %v", e.Err)
	}
}

func (e *ProtocolParseError) Unwrap() error { return e.Err }

// Handshake is the identity announcement sent as the first frame of every connection.
type Handshake struct {
	ClientID    string `json:"clientId" validate:"required"`
	DisplayName string `json:"displayName"`
}

// Envelope is an outbound message frame.
type Envelope struct {
	Type     string           `json:"type" validate:"required,oneof=broadcast unicast"`
	To       string           `json:"to,omitempty" validate:"required_if=Type unicast"`
	Content  string           `json:"content"`
	DataType string           `json:"dataType,omitempty" validate:"omitempty,oneof=text loading-files files file"`
	From     *models.PeerInfo `json:"from,omitempty"`
}

// PeersFrame carries the full roster.
type PeersFrame struct {
	Type  string            `json:"type"`
	Peers []models.PeerInfo `json:"peers"`
}

// PeerJoinedFrame announces one new peer.
type PeerJoinedFrame struct {
	Type string          `json:"type"`
	Peer models.PeerInfo `json:"peer"`
}

// PeerLeftFrame announces a departed peer.
type PeerLeftFrame struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

// MessageFrame is a routed envelope as delivered by the relay.
type MessageFrame struct {
	Type     string          `json:"type"`
	Message  string          `json:"message"`
	From     models.PeerInfo `json:"from"`
	DataType string          `json:"dataType,omitempty"`
}

// Event is a classified inbound frame.
type Event interface {
	eventType() string
}

// RosterFullSync replaces the whole roster.
type RosterFullSync struct {
	Peers []models.PeerInfo
}

// PeerJoined adds one peer.
type PeerJoined struct {
	Peer models.PeerInfo
}

// PeerLeft removes one peer by id.
type PeerLeft struct {
	PeerID string
}

// InboundMessage is any frame that is not a roster event.
type InboundMessage struct {
	Type     string
	Message  string
	From     models.PeerInfo
	DataType string
	Payload  Payload
}

func (RosterFullSync) eventType() string { return TypePeers }
func (PeerJoined) eventType() string     { return TypePeerJoined }
func (PeerLeft) eventType() string       { return TypePeerLeft }
func (m InboundMessage) eventType() string {
	return m.Type
}

// Payload is the decoded content of an InboundMessage, keyed on dataType.
type Payload interface {
	payloadKind() string
}

// TextPayload is plain message text, or the raw content of an unknown dataType.
type TextPayload struct {
	Text string
}

// FileBatchPlaceholderPayload announces a batch whose bytes are still being encoded.
type FileBatchPlaceholderPayload struct {
	Files []models.FileMeta
}

// FileBatchPayload carries a complete batch of encoded files.
type FileBatchPayload struct {
	Files []models.EncodedFile
}

func (TextPayload) payloadKind() string                 { return DataTypeText }
func (FileBatchPlaceholderPayload) payloadKind() string { return DataTypeLoadingFiles }
func (FileBatchPayload) payloadKind() string            { return DataTypeFiles }

type inboundFrame struct {
	Type     string            `json:"type"`
	Peers    []models.PeerInfo `json:"peers"`
	Peer     *models.PeerInfo  `json:"peer"`
	PeerID   string            `json:"peerId"`
	Message  *string           `json:"message"`
	Content  *string           `json:"content"`
	From     json.RawMessage   `json:"from"`
	DataType string            `json:"dataType"`
}

type placeholderContent struct {
	Files []models.FileMeta `json:"files"`
}

type legacyFileContent struct {
	Data     string `json:"data"`
	Metadata struct {
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
	} `json:"metadata"`
}

// EncodeHandshake marshals the identity announcement.
func EncodeHandshake(identity models.ClientIdentity) ([]byte, error) {
	handshake := Handshake{ClientID: identity.ID, DisplayName: identity.DisplayName}
	if err := validate.Struct(handshake); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	return encodeJSON(handshake)
}

// DecodeHandshake parses the first frame of a relay connection.
func DecodeHandshake(data []byte) (Handshake, error) {
	var handshake Handshake
	if err := json.Unmarshal(data, &handshake); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := validate.Struct(handshake); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	return handshake, nil
}

// ValidateEnvelope checks type, recipient and dataType vocabulary.
func ValidateEnvelope(envelope Envelope) error {
	if err := validate.Struct(envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

// EncodeEnvelope validates and marshals an outbound envelope.
func EncodeEnvelope(envelope Envelope) ([]byte, error) {
	if err := ValidateEnvelope(envelope); err != nil {
		return nil, err
	}
	return encodeJSON(envelope)
}

// DecodeEnvelope parses an envelope received by a relay.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := ValidateEnvelope(envelope); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}

// PlaceholderContent builds the loading-files content string.
func PlaceholderContent(files []models.FileMeta) (string, error) {
	if files == nil {
		files = []models.FileMeta{}
	}
	payload, err := encodeJSON(placeholderContent{Files: files})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// BatchContent builds the files content string.
func BatchContent(files []models.EncodedFile) (string, error) {
	if files == nil {
		files = []models.EncodedFile{}
	}
	payload, err := encodeJSON(files)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// DecodeFrame classifies one inbound relay frame.
//
// Errors are always *ProtocolParseError; the frame must be dropped.
func DecodeFrame(data []byte) (Event, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &ProtocolParseError{Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	if frame.Type == "" && frame.Message == nil && frame.Content == nil {
		return nil, &ProtocolParseError{Err: fmt.Errorf("%w: no type and no content", ErrMalformedFrame)}
	}

	switch frame.Type {
	case TypePeers:
		peers := make([]models.PeerInfo, 0, len(frame.Peers))
		for _, peer := range frame.Peers {
			if peer.ID == "" {
				return nil, &ProtocolParseError{FrameType: frame.Type, Err: fmt.Errorf("%w: peer without id", ErrInvalidPayload)}
			}
			peer.IsSelf = false
			peers = append(peers, peer)
		}
		return RosterFullSync{Peers: peers}, nil
	case TypePeerJoined:
		if frame.Peer == nil || frame.Peer.ID == "" {
			return nil, &ProtocolParseError{FrameType: frame.Type, Err: fmt.Errorf("%w: missing peer", ErrInvalidPayload)}
		}
		peer := *frame.Peer
		peer.IsSelf = false
		return PeerJoined{Peer: peer}, nil
	case TypePeerLeft:
		if frame.PeerID == "" {
			return nil, &ProtocolParseError{FrameType: frame.Type, Err: fmt.Errorf("%w: missing peerId", ErrInvalidPayload)}
		}
		return PeerLeft{PeerID: frame.PeerID}, nil
	}

	message := ""
	switch {
	case frame.Message != nil:
		message = *frame.Message
	case frame.Content != nil:
		message = *frame.Content
	}

	from, err := decodeSender(frame.From)
	if err != nil {
		return nil, &ProtocolParseError{FrameType: frame.Type, DataType: frame.DataType, Err: err}
	}

	payload, err := DecodePayload(frame.DataType, message)
	if err != nil {
		return nil, &ProtocolParseError{FrameType: frame.Type, DataType: frame.DataType, Err: err}
	}

	return InboundMessage{
		Type:     frame.Type,
		Message:  message,
		From:     from,
		DataType: frame.DataType,
		Payload:  payload,
	}, nil
}

// DecodePayload decodes message content according to dataType.
func DecodePayload(dataType, content string) (Payload, error) {
	switch dataType {
	case DataTypeLoadingFiles:
		files, err := decodePlaceholder(content)
		if err != nil {
			return nil, err
		}
		return FileBatchPlaceholderPayload{Files: files}, nil
	case DataTypeFiles:
		var files []models.EncodedFile
		if err := json.Unmarshal([]byte(content), &files); err != nil {
			return nil, fmt.Errorf("%w: files content: %v", ErrInvalidPayload, err)
		}
		return FileBatchPayload{Files: files}, nil
	case DataTypeFile:
		var legacy legacyFileContent
		if err := json.Unmarshal([]byte(content), &legacy); err != nil {
			return nil, fmt.Errorf("%w: file content: %v", ErrInvalidPayload, err)
		}
		if legacy.Data == "" {
			return nil, fmt.Errorf("%w: file content without data", ErrInvalidPayload)
		}
		return FileBatchPayload{Files: []models.EncodedFile{{
			Name:   legacy.Metadata.Name,
			Type:   legacy.Metadata.MimeType,
			Base64: legacy.Data,
		}}}, nil
	default:
		return TextPayload{Text: content}, nil
	}
}

func decodePlaceholder(content string) ([]models.FileMeta, error) {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var files []models.FileMeta
		if err := json.Unmarshal(trimmed, &files); err != nil {
			return nil, fmt.Errorf("%w: loading-files content: %v", ErrInvalidPayload, err)
		}
		return files, nil
	}

	var placeholder placeholderContent
	if err := json.Unmarshal(trimmed, &placeholder); err != nil {
		return nil, fmt.Errorf("%w: loading-files content: %v", ErrInvalidPayload, err)
	}
	return placeholder.Files, nil
}

// decodeSender accepts a PeerInfo object or a bare id string.
func decodeSender(raw json.RawMessage) (models.PeerInfo, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return models.PeerInfo{}, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return models.PeerInfo{}, fmt.Errorf("%w: from: %v", ErrInvalidPayload, err)
		}
		return models.PeerInfo{ID: id}, nil
	}

	var from models.PeerInfo
	if err := json.Unmarshal(raw, &from); err != nil {
		return models.PeerInfo{}, fmt.Errorf("%w: from: %v", ErrInvalidPayload, err)
	}
	from.IsSelf = false
	return from, nil
}

func encodeJSON(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol message: %w", err)
	}
	return payload, nil
}
