package clusterproto

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestRequestResponseRoundTrip(t *testing.T) {
	req, err := NewRequest(1, MethodEdgeRegister, RegisterParams{EdgeID: "e1", ServerID: 7})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, req); err != nil {
		t.Fatal(err)
	}

	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsRequest() {
		t.Fatal("expected a request envelope")
	}
	if got.Method != MethodEdgeRegister {
		t.Fatalf("method = %s, want %s", got.Method, MethodEdgeRegister)
	}
	var params RegisterParams
	if err := json.Unmarshal(got.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params.EdgeID != "e1" || params.ServerID != 7 {
		t.Fatalf("params mismatch: %+v", params)
	}
}

func TestNotifyHasNoID(t *testing.T) {
	notify, err := NewNotify(MethodEdgePeerLeft, PeerLeftNotify{EdgeID: "e2"})
	if err != nil {
		t.Fatal(err)
	}
	if !notify.IsNotify() {
		t.Fatal("expected a notify envelope")
	}
	if notify.IsRequest() || notify.IsResponse() {
		t.Fatal("a notify is neither a request nor a response")
	}
}

func TestErrorResponse(t *testing.T) {
	errEnv := NewError(5, 403, "Server must be connected to Hub")
	if !errEnv.IsResponse() {
		t.Fatal("expected a response envelope")
	}
	if errEnv.Error.Message != "Server must be connected to Hub" {
		t.Fatalf("unexpected error message: %+v", errEnv.Error)
	}
}
