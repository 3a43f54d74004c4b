package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
	"github.com/mbientlab/metabase/internal/core/domain"
)

// Replier answers a request on behalf of the actor that received it.
type Replier struct {
	req domain.ActorRequest
}

// ForRequest answers either the explicit ReplyTo of a request or its sender.
// Requests sent without either are answered nowhere.
func ForRequest(r domain.ActorRequest) Replier {
	return Replier{req: r}
}

func (r Replier) Respond(ctx actor.Context, resp domain.ActorResponse) {
	if target := r.ReplyTo(ctx); target != nil {
		ctx.Send(target, resp)
	}
}

func (r Replier) ReplyTo(ctx actor.Context) *actor.PID {
	if pid := r.req.ReplyTo(); pid != nil {
		return pid
	}
	return ctx.Sender()
}

// ErrorResponse wraps err in a bare response.
func ErrorResponse(err error) domain.ActorResponseMixIn {
	return domain.ActorResponseMixIn{ResponseError: err}
}
