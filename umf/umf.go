// Package umf implements the Unified Message Format used throughout the
// mesh: a long-form struct for application code and a short-form wire
// encoding used for transport and logging.
package umf

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message is the long-form UMF envelope.
type Message struct {
	To        string         `json:"to"`
	From      string         `json:"from"`
	MID       string         `json:"mid,omitempty"`
	RMID      string         `json:"rmid,omitempty"`
	Type      string         `json:"type,omitempty"`
	Version   string         `json:"version,omitempty"`
	Timeout   int            `json:"timeout,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Signature string         `json:"signature,omitempty"`
	Authorization string     `json:"authorization,omitempty"`
	Via       string         `json:"via,omitempty"`
	ForwardedHistory []string `json:"forwardedHistory,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      map[string]any `json:"body"`
}

// ShortMessage is the wire/short-form encoding. Field names mirror the
// long form one-for-one except for the aliases below.
type ShortMessage struct {
	To        string         `json:"to"`
	Frm       string         `json:"frm"`
	Mid       string         `json:"mid,omitempty"`
	Rmid      string         `json:"rmid,omitempty"`
	Typ       string         `json:"typ,omitempty"`
	Ver       string         `json:"ver,omitempty"`
	Tmo       int            `json:"tmo,omitempty"`
	Ts        string         `json:"ts,omitempty"`
	Sig       string         `json:"sig,omitempty"`
	Aut       string         `json:"aut,omitempty"`
	Via       string         `json:"via,omitempty"`
	Fwd       []string       `json:"fwd,omitempty"`
	Hdr       map[string]string `json:"hdr,omitempty"`
	Bdy       map[string]any `json:"bdy"`
}

var (
	ErrMissingTo   = errors.New("umf: missing to")
	ErrMissingFrom = errors.New("umf: missing from")
	ErrMissingBody = errors.New("umf: missing body")
)

// New builds a Message with a fresh mid and timestamp, mirroring the
// constructor shape of codec.NewMessage.
func New(to, from string, body map[string]any) *Message {
	if body == nil {
		body = make(map[string]any)
	}
	return &Message{
		To:        to,
		From:      from,
		MID:       uuid.NewString(),
		Version:   "UMF/1.4.6",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Body:      body,
	}
}

// Reply builds a response message that correlates to msg via rmid, per
// the reply-correlation contract (a response carries rmid == request mid).
func Reply(msg *Message, from string, body map[string]any) *Message {
	r := New(msg.From, from, body)
	r.RMID = msg.MID
	r.Type = "response"
	return r
}

// Validate enforces the required-field invariant: to, from and body must
// all be present.
func (m *Message) Validate() error {
	if m.To == "" {
		return ErrMissingTo
	}
	if m.From == "" {
		return ErrMissingFrom
	}
	if m.Body == nil {
		return ErrMissingBody
	}
	return nil
}

// Copy returns a deep copy, matching codec.Message.Copy's clone-then-own-maps idiom.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Body = make(map[string]any, len(m.Body))
	for k, v := range m.Body {
		clone.Body[k] = v
	}
	if m.Headers != nil {
		clone.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			clone.Headers[k] = v
		}
	}
	if m.ForwardedHistory != nil {
		clone.ForwardedHistory = append([]string(nil), m.ForwardedHistory...)
	}
	return &clone
}

// ToShort renames long-form fields into the wire-compact short form. No
// information is lost: toShort(toLong(m)) always reproduces the same
// ShortMessage for a given input.
func ToShort(m *Message) *ShortMessage {
	return &ShortMessage{
		To: m.To, Frm: m.From, Mid: m.MID, Rmid: m.RMID,
		Typ: m.Type, Ver: m.Version, Tmo: m.Timeout, Ts: m.Timestamp,
		Sig: m.Signature, Aut: m.Authorization, Via: m.Via,
		Fwd: m.ForwardedHistory, Hdr: m.Headers, Bdy: m.Body,
	}
}

// ToLong expands a short-form message back into the long form.
func ToLong(s *ShortMessage) *Message {
	return &Message{
		To: s.To, From: s.Frm, MID: s.Mid, RMID: s.Rmid,
		Type: s.Typ, Version: s.Ver, Timeout: s.Tmo, Timestamp: s.Ts,
		Signature: s.Sig, Authorization: s.Aut, Via: s.Via,
		ForwardedHistory: s.Fwd, Headers: s.Hdr, Body: s.Bdy,
	}
}

// MarshalShort encodes a Message directly to its short-form JSON bytes,
// the representation that travels over the bus.
func MarshalShort(m *Message) ([]byte, error) {
	return json.Marshal(ToShort(m))
}

// UnmarshalShort decodes short-form JSON bytes into a long-form Message.
func UnmarshalShort(data []byte) (*Message, error) {
	var s ShortMessage
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return ToLong(&s), nil
}
