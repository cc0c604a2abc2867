package peer

import (
	"encoding/base64"
	"fmt"

	"github.com/ruteri/vault-session-broker/interfaces"
)

// Envelope authenticates a request to the controller.
type Envelope struct {
	// PeerID is the stable identifier of the caller.
	PeerID string `json:"peer_id"`
	// Signature is the base64 encoded signature over PeerID.
	Signature string `json:"signature"`
	// Impersonated is set when the controller signs on a peer's behalf.
	Impersonated bool `json:"impersonated_by_controller"`
}

// NewEnvelope signs a fresh envelope for signer.
func NewEnvelope(signer interfaces.Signer, impersonated bool) (Envelope, error) {
	id := signer.ID()
	sig, err := signer.Sign([]byte(id))
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to sign request envelope: %w", err)
	}
	return Envelope{
		PeerID:       id,
		Signature:    base64.StdEncoding.EncodeToString(sig),
		Impersonated: impersonated,
	}, nil
}

// DecodeSignature returns the raw signature bytes.
func (e Envelope) DecodeSignature() ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope signature encoding: %w", err)
	}
	return sig, nil
}

// Payload is the body of a request to the controller.
type Payload struct {
	Envelope
	Params map[string]any `json:"params,omitempty"`
}
