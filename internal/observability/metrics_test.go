package observability

import "testing"

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordConnect(false)
	RecordConnect(true)
	RecordDisconnect()
	RecordFrameSent()
	RecordFrameReceived()
	SetPendingRequests(3)
	SetPendingRequests(0)
}
