package domain

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_ORCHESTRATOR = "orchestrator"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_DEVICE       = "device"
)

// ActorRequest is a message that expects an answer. A non-nil ReplyTo
// takes precedence over the sender of the message.
type ActorRequest interface {
	ReplyTo() *actor.PID
}

type ActorRequestMixIn struct {
	ReplyToPID *actor.PID `json:"-"`
}

func (r ActorRequestMixIn) ReplyTo() *actor.PID {
	return r.ReplyToPID
}

// ActorResponse carries the error of a failed request next to its payload.
type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorResponseMixIn struct {
	ResponseError error `json:"-"`
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

// ActionRequest marks the requests the master routes to the orchestrator.
type ActionRequest interface {
	ActorRequest
	actionRequest()
}

type ActionRequestMixIn struct {
	ActorRequestMixIn
}

func (ActionRequestMixIn) actionRequest() {}

type StartActionRequest struct {
	ActionRequestMixIn
	Action      ActionType
	Devices     []DeviceMeta
	Selection   SensorSelection
	Mode        RecordingMode
	SessionName string
	GroupId     string
	Date        time.Time
}

type StartActionResponse struct {
	ActorResponseMixIn
	States map[string]ActionState `json:"states"`
}

type StopStreamingRequest struct {
	ActionRequestMixIn
}

type StopStreamingResponse struct {
	ActorResponseMixIn
}

type RetryDeviceRequest struct {
	ActionRequestMixIn
	MAC string
}

type RetryDeviceResponse struct {
	ActorResponseMixIn
	Requeued bool `json:"requeued"`
}

// RestartFailuresRequest starts the devices of a finished run that did
// not complete. It is answered with a StartActionResponse.
type RestartFailuresRequest struct {
	ActionRequestMixIn
}

type CancelAndUndoRequest struct {
	ActionRequestMixIn
}

type CancelAndUndoResponse struct {
	ActorResponseMixIn
	Cancelled []string `json:"cancelled"`
}

type GetActionStateRequest struct {
	ActionRequestMixIn
}

type ActionStateResponse struct {
	ActorResponseMixIn
	Running      bool                   `json:"running"`
	Action       ActionType             `json:"action,omitempty"`
	SessionName  string                 `json:"session_name,omitempty"`
	States       map[string]ActionState `json:"states"`
	Queued       int                    `json:"queued"`
	InFlight     []string               `json:"in_flight"`
	Done         bool                   `json:"done"`
	SavedSession *uuid.UUID             `json:"saved_session,omitempty"`
	SaveError    string                 `json:"save_error,omitempty"`
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
	Buttons  []GenericButton
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

var (
	_ ActionRequest = StartActionRequest{}
	_ ActionRequest = StopStreamingRequest{}
	_ ActionRequest = RetryDeviceRequest{}
	_ ActionRequest = CancelAndUndoRequest{}
	_ ActionRequest = GetActionStateRequest{}
)
