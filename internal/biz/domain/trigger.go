package domain

// Trigger is the classified reason a reply is being considered
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerReplyToPersona
	TriggerMention
	TriggerAmbient
)

func (t Trigger) String() string {
	switch t {
	case TriggerReplyToPersona:
		return "reply_to_persona"
	case TriggerMention:
		return "mention"
	case TriggerAmbient:
		return "ambient"
	default:
		return "none"
	}
}

// Mode selects how the prompt is assembled
type Mode int

const (
	ModeAnswer Mode = iota
	ModeInterrupt
	ModeWakeup
)

func (m Mode) String() string {
	switch m {
	case ModeInterrupt:
		return "interrupt"
	case ModeWakeup:
		return "wakeup"
	default:
		return "answer"
	}
}

// Persona is the resolved response identity for one generation
type Persona struct {
	IsFormal        bool
	Name            string
	Description     string
	HasQuotes       bool
	RudeRequirement string
}
