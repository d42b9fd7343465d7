package core

import (
	"context"
	"testing"
)

func TestCapabilityOf(t *testing.T) {
	cases := map[Operation]Capability{
		OpListItems:       CapabilityData,
		OpSendMessage:     CapabilityCommunication,
		OpCreateIssue:     CapabilityProject,
		OpConnect:         "",
		OpGetCapabilities: "",
	}
	for op, want := range cases {
		got, known := CapabilityOf(op)
		if !known || got != want {
			t.Fatalf("%s: expected %q, got %q known=%v", op, want, got, known)
		}
	}
	if _, known := CapabilityOf(Operation("fly")); known {
		t.Fatalf("expected unknown operation")
	}
	ops := OperationsFor(CapabilityCommunication)
	if ops[0] != OpConnect || ops[len(ops)-1] != OpSearchMessages {
		t.Fatalf("expected common operations first, got %v", ops)
	}
}

func TestCheckOperation(t *testing.T) {
	reg := ConnectorRegistration{Name: "jira", Capability: CapabilityProject}
	if err := checkOperation(reg, OpListIssues); err != nil {
		t.Fatalf("expected project op allowed: %v", err)
	}
	if err := checkOperation(reg, OpTestConnection); err != nil {
		t.Fatalf("expected common op allowed: %v", err)
	}
	if err := checkOperation(reg, OpListChannels); !IsErrorCode(err, ErrorUnsupportedOperation) {
		t.Fatalf("expected communication op rejected, got %v", err)
	}
	if err := checkOperation(reg, Operation("fly")); !IsErrorCode(err, ErrorUnsupportedOperation) {
		t.Fatalf("expected unknown op rejected, got %v", err)
	}
}

func TestArgs_Readers(t *testing.T) {
	args := Args{
		"id":      " 42 ",
		"limit":   float64(25),
		"cursor":  "next",
		"payload": map[string]any{"title": "hello"},
		"params":  map[string]any{"state": "open"},
		"broken":  "nope",
	}
	if args.String("id") != "42" {
		t.Fatalf("expected trimmed id, got %q", args.String("id"))
	}
	if _, err := args.RequireString("missing"); !IsErrorCode(err, ErrorBadInput) {
		t.Fatalf("expected bad input for missing key, got %v", err)
	}
	filter := args.Filter()
	if filter.Limit != 25 || filter.Cursor != "next" || filter.Params["state"] != "open" {
		t.Fatalf("unexpected filter: %+v", filter)
	}
	payload, err := args.Payload("payload")
	if err != nil || payload["title"] != "hello" {
		t.Fatalf("unexpected payload %v err=%v", payload, err)
	}
	if _, err := args.Payload("broken"); !IsErrorCode(err, ErrorBadInput) {
		t.Fatalf("expected non-object payload rejected, got %v", err)
	}
	if Args(nil).Int("limit") != 0 {
		t.Fatalf("expected zero from nil args")
	}
}

func TestInvokeOperation_RoutesToCapability(t *testing.T) {
	handle := &ConnectorHandle{
		Name:       "slack",
		Capability: CapabilityCommunication,
		Connector:  &fakeCommunicationConnector{fakeConnector: fakeConnector{capability: CapabilityCommunication}},
	}
	data, err := invokeOperation(context.Background(), handle, OpSendMessage, Args{"channel_id": "C1", "text": "hi"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if sent, ok := data.(Payload); !ok || sent["channel"] != "C1" {
		t.Fatalf("unexpected send result %#v", data)
	}

	if _, err := invokeOperation(context.Background(), handle, OpListProjects, nil); !IsErrorCode(err, ErrorUnsupportedOperation) {
		t.Fatalf("expected capability mismatch to be unsupported, got %v", err)
	}
	caps, err := invokeOperation(context.Background(), handle, OpGetCapabilities, nil)
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if info, ok := caps.(CapabilityInfo); !ok || info.Capability != CapabilityCommunication {
		t.Fatalf("unexpected capabilities %#v", caps)
	}
}
