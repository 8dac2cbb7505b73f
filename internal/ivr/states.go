package ivr

// State is a node of the call flow. Every callback is answered from exactly
// one state; nothing is kept between callbacks.
type State string

const (
	StateMainMenu       State = "main_menu"
	StateAcknowledge    State = "acknowledge"
	StateReadContact    State = "read_contact"
	StateRepeat         State = "repeat"
	StateNoLongerActive State = "no_longer_active"
	StateApology        State = "apology"
)

// Input is what the caller did on a gather turn.
type Input string

const (
	InputAcknowledge Input = "1"
	InputContact     Input = "2"
	InputRepeat      Input = "9"
	InputOther       Input = "other"
	InputTimeout     Input = "timeout"
)

// ParseInput maps the raw Digits parameter onto an Input. Only the first
// key counts; an empty value is a timeout.
func ParseInput(digits string) Input {
	if digits == "" {
		return InputTimeout
	}
	switch Input(digits[:1]) {
	case InputAcknowledge:
		return InputAcknowledge
	case InputContact:
		return InputContact
	case InputRepeat:
		return InputRepeat
	}
	return InputOther
}

// transitions is the complete state x input table. States missing from it
// are terminal or hand control back to the main menu (see after).
var transitions = map[State]map[Input]State{
	StateMainMenu: {
		InputAcknowledge: StateAcknowledge,
		InputContact:     StateReadContact,
		InputRepeat:      StateRepeat,
		InputOther:       StateRepeat,
		InputTimeout:     StateRepeat,
	},
}

// after is where a state's document sends the caller next.
var after = map[State]State{
	StateReadContact: StateMainMenu,
	StateRepeat:      StateMainMenu,
}

// Next returns the state reached from s on input in.
func Next(s State, in Input) State {
	if row, ok := transitions[s]; ok {
		if next, ok := row[in]; ok {
			return next
		}
		return StateRepeat
	}
	if next, ok := after[s]; ok {
		return next
	}
	return s
}

// Terminal reports whether the call ends after s is rendered.
func Terminal(s State) bool {
	switch s {
	case StateAcknowledge, StateNoLongerActive, StateApology:
		return true
	}
	return false
}
