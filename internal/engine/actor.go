package engine

// Actor identifies who is invoking a transition: an authenticated caller or
// the scheduler acting as the system. System actions bypass owner checks.
type Actor struct {
	principal string
	system    bool
}

// System is the scheduler-trigger actor. It bypasses owner checks on start
// and stop.
func System() Actor {
	return Actor{system: true}
}

// Caller wraps an authenticated principal.
func Caller(principal string) Actor {
	return Actor{principal: principal}
}

func (a Actor) IsSystem() bool {
	return a.system
}

func (a Actor) Principal() string {
	return a.principal
}

// mayAdminister reports whether the actor can administer an auction owned by
// owner.
func (a Actor) mayAdminister(owner string) bool {
	return a.system || a.principal == owner
}
