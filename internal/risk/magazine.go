package risk

// magazine counts the entries that may be sent before an operator reloads
// it. Unlike a token bucket it never refills on its own.
type magazine struct {
	rounds int
}

// load adds rounds and returns the new count.
func (m *magazine) load(rounds int) int {
	m.rounds += rounds
	return m.rounds
}

// empty sets the count to zero and returns what was left.
func (m *magazine) empty() int {
	prev := m.rounds
	m.rounds = 0
	return prev
}

// fire spends one round. The count may go negative when an entry is sent
// with an empty magazine, which the gate never approves.
func (m *magazine) fire() int {
	m.rounds--
	return m.rounds
}

func (m *magazine) available() bool { return m.rounds > 0 }
