package normalizer

import "testing"

func TestDroidToolCallWithID(t *testing.T) {
	n := NewDroidNormalizer("/repo", NewEntryIndexProvider())

	call, _ := n.ParseLine(`{"type":"ToolCall","id":"t1","toolName":"Read","parameters":{"path":"a.go"}}`)
	callPatches := n.ProcessEvent(call)
	if len(callPatches) != 1 {
		t.Fatalf("expected one patch")
	}

	result, _ := n.ParseLine(`{"type":"ToolResult","id":"t1","isError":false,"value":"contents"}`)
	resultPatches := n.ProcessEvent(result)
	if len(resultPatches) != 1 {
		t.Fatalf("expected one patch")
	}
	if resultPatches[0].Index != callPatches[0].Index {
		t.Fatalf("expected result to correlate with call via id, got %d want %d", resultPatches[0].Index, callPatches[0].Index)
	}
}

func TestDroidToolResultFIFOWithoutID(t *testing.T) {
	n := NewDroidNormalizer("/repo", NewEntryIndexProvider())

	call1, _ := n.ParseLine(`{"type":"ToolCall","id":"","toolName":"Bash","parameters":{}}`)
	call1Patches := n.ProcessEvent(call1)

	call2, _ := n.ParseLine(`{"type":"ToolCall","id":"","toolName":"Bash","parameters":{}}`)
	call2Patches := n.ProcessEvent(call2)

	result1, _ := n.ParseLine(`{"type":"ToolResult","id":"","isError":false,"value":"first"}`)
	result1Patches := n.ProcessEvent(result1)
	if result1Patches[0].Index != call1Patches[0].Index {
		t.Fatalf("expected FIFO to correlate first result with first call")
	}

	result2, _ := n.ParseLine(`{"type":"ToolResult","id":"","isError":false,"value":"second"}`)
	result2Patches := n.ProcessEvent(result2)
	if result2Patches[0].Index != call2Patches[0].Index {
		t.Fatalf("expected FIFO to correlate second result with second call")
	}
}

func TestDroidExitSpecModeCollapsesToTodoManagement(t *testing.T) {
	n := NewDroidNormalizer("/repo", NewEntryIndexProvider())
	call, _ := n.ParseLine(`{"type":"ToolCall","id":"t1","toolName":"ExitSpecMode","parameters":{}}`)
	patches := n.ProcessEvent(call)
	if len(patches) != 1 {
		t.Fatalf("expected one patch")
	}
	if patches[0].Entry.Action.Kind != "todo_management" {
		t.Fatalf("expected todo_management action, got %q", patches[0].Entry.Action.Kind)
	}
}
