// Package protocol translates between free-text cat output and a small
// structured command set. Cats embed bracketed markers in their replies;
// one parsing pass extracts them as tagged Action values and strips them
// from the text shown to the user.
package protocol

// Action is a control signal extracted from a cat's reply.
// Exactly one concrete type implements it per marker kind.
type Action interface {
	isAction()
}

// Create requests a new task on the board.
type Create struct {
	Title string
}

// Claim requests ownership of a pending task.
type Claim struct {
	TaskID string
}

// Complete marks a doing task as done.
type Complete struct {
	TaskID string
}

// Idle signals the cat has nothing to pick up this turn.
type Idle struct{}

// Ask invites another cat to respond in the next round.
type Ask struct {
	CatID string
}

// Discuss signals the topic deserves further multi-party response.
type Discuss struct{}

// Remember stores a memory for the speaking cat.
type Remember struct {
	Text string
}

// SetProfile records a fact about the user.
type SetProfile struct {
	Key   string
	Value string
}

func (Create) isAction()     {}
func (Claim) isAction()      {}
func (Complete) isAction()   {}
func (Idle) isAction()       {}
func (Ask) isAction()        {}
func (Discuss) isAction()    {}
func (Remember) isAction()   {}
func (SetProfile) isAction() {}
