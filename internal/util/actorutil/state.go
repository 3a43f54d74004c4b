package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ActorWithStates drives an actor.Behavior with named states. Transitions
// are logged at debug level when Logger is set.
type ActorWithStates struct {
	Behavior actor.Behavior
	Logger   *zap.Logger
	names    []string
}

type ActorState interface {
	Name() string
	Receive(actor.Context)
}

// StateName is the name of the active state, "" before the first Become.
func (s *ActorWithStates) StateName() string {
	if len(s.names) == 0 {
		return ""
	}
	return s.names[len(s.names)-1]
}

func (s *ActorWithStates) Become(state ActorState) {
	s.logTransition(state.Name())
	s.names = append(s.names[:0], state.Name())
	s.Behavior.Become(state.Receive)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.logTransition(state.Name())
	s.names = append(s.names, state.Name())
	s.Behavior.BecomeStacked(state.Receive)
}

func (s *ActorWithStates) UnbecomeStacked() {
	if len(s.names) > 1 {
		s.logTransition(s.names[len(s.names)-2])
		s.names = s.names[:len(s.names)-1]
	}
	s.Behavior.UnbecomeStacked()
}

func (s *ActorWithStates) logTransition(to string) {
	if s.Logger != nil && s.StateName() != to {
		s.Logger.Debug("state transition", zap.String("from", s.StateName()), zap.String("to", to))
	}
}
