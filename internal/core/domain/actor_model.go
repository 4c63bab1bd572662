package domain

import "github.com/berfenger/meterlink/pkg/meter_modbus"

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_METER        = "meter"
	ACTOR_ID_ACQUISITION  = "acquisition"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// MeterRequest marks messages served by the meter actor. The master
// forwards them unchanged.
type MeterRequest interface {
	ActorRequest
	meterRequest()
}

type MeterRequestMixIn struct {
	ActorRequestMixIn
}

func (MeterRequestMixIn) meterRequest() {}

// GetSnapshotRequest reads every measurement once from the meter.
type GetSnapshotRequest struct {
	MeterRequestMixIn
}

type GetSnapshotResponse struct {
	ActorResponseMixIn
	Snapshot   meter_modbus.Snapshot
	Connection meter_modbus.ConnectionInfo
}

type ScanRegistersRequest struct {
	MeterRequestMixIn
}

type ScanRegistersResponse struct {
	ActorResponseMixIn
	Rows []meter_modbus.ScanRow
}

type GetLastScanRequest struct {
	MeterRequestMixIn
}

type GetLastScanResponse struct {
	ActorResponseMixIn
	Rows []meter_modbus.ScanRow
}

// GetMeterInfoRequest returns the descriptors and connection state, no I/O.
type GetMeterInfoRequest struct {
	MeterRequestMixIn
}

type GetMeterInfoResponse struct {
	ActorResponseMixIn
	Metadata   []meter_modbus.MeasurementMetadata
	Relevant   []string
	Connection meter_modbus.ConnectionInfo
}

type ReconnectRequest struct {
	MeterRequestMixIn
}

type ReconnectResponse struct {
	ActorResponseMixIn
	Connection meter_modbus.ConnectionInfo
}

// GetLatestSnapshotRequest is answered by the acquisition actor from its
// last periodic read.
type GetLatestSnapshotRequest struct {
	ActorRequestMixIn
}

type GetLatestSnapshotResponse struct {
	ActorResponseMixIn
	Snapshot   *meter_modbus.Snapshot
	Connection meter_modbus.ConnectionInfo
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
	Sensors []GenericSensor
	Buttons []GenericButton
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

// ReconnectDecision is the outcome of one acquisition cycle.
type ReconnectDecision struct {
	Reconnect bool
	Reason    string
}
