package jitter

import "github.com/google/uuid"

// Kind distinguishes the two classes of stream a client can send.
type Kind int

// Stream kinds.
const (
	KindMicrophone Kind = iota
	KindInjected
)

func (k Kind) String() string {
	switch k {
	case KindMicrophone:
		return "microphone"
	case KindInjected:
		return "injected"
	default:
		return "unknown"
	}
}

// Source identifies what feeds a Stream and carries the kind-specific
// fields. It is implemented only by Microphone and Injected; callers switch
// on the concrete type.
type Source interface {
	Kind() Kind
	Channels() int
	isSource()
}

// Microphone is a client's own voice. A client has at most one.
type Microphone struct {
	Stereo bool
}

// Kind implements Source.
func (Microphone) Kind() Kind { return KindMicrophone }

// Channels implements Source.
func (m Microphone) Channels() int {
	if m.Stereo {
		return 2
	}
	return 1
}

func (Microphone) isSource() {}

// Injected is a mono stream added to the world by an agent or script,
// addressed by its stream id.
type Injected struct {
	ID               uuid.UUID
	Radius           float32
	AttenuationRatio float32
}

// Kind implements Source.
func (Injected) Kind() Kind { return KindInjected }

// Channels implements Source.
func (Injected) Channels() int { return 1 }

func (Injected) isSource() {}
