package normalizer

import "testing"

func TestCodexNormalizerStreamingAssistantDelta(t *testing.T) {
	n := NewCodexNormalizer("/repo", NewEntryIndexProvider())

	lines := []string{
		`{"method":"codex/event","params":{"msg":{"type":"agent_message_delta","delta":"Hel"}}}`,
		`{"method":"codex/event","params":{"msg":{"type":"agent_message_delta","delta":"lo"}}}`,
		`{"method":"codex/event","params":{"msg":{"type":"agent_message","message":"Hello"}}}`,
	}

	var allPatches []int
	var lastIndex = -1
	for _, line := range lines {
		event, ok := n.ParseLine(line)
		if !ok {
			t.Fatalf("expected line to parse: %s", line)
		}
		patches := n.ProcessEvent(event)
		if len(patches) != 1 {
			t.Fatalf("expected exactly one patch, got %d", len(patches))
		}
		allPatches = append(allPatches, patches[0].Index)
		lastIndex = patches[0].Index
	}

	for _, idx := range allPatches {
		if idx != lastIndex {
			t.Fatalf("expected all deltas to target the same index, got %v", allPatches)
		}
	}
}

func TestCodexNormalizerExecCommandLifecycle(t *testing.T) {
	n := NewCodexNormalizer("/repo", NewEntryIndexProvider())

	begin, _ := n.ParseLine(`{"method":"codex/event","params":{"msg":{"type":"exec_command_begin","call_id":"c1","command":"ls"}}}`)
	beginPatches := n.ProcessEvent(begin)
	if len(beginPatches) != 1 {
		t.Fatalf("expected one patch from begin event")
	}
	if beginPatches[0].Entry.Status != "created" {
		t.Fatalf("expected created status, got %q", beginPatches[0].Entry.Status)
	}

	end, _ := n.ParseLine(`{"method":"codex/event","params":{"msg":{"type":"exec_command_end","call_id":"c1","command":"ls","exit_code":0,"aggregated_output":"a.go\n"}}}`)
	endPatches := n.ProcessEvent(end)
	if len(endPatches) != 1 {
		t.Fatalf("expected one patch from end event")
	}
	if endPatches[0].Index != beginPatches[0].Index {
		t.Fatalf("expected end to replace begin's index: got %d want %d", endPatches[0].Index, beginPatches[0].Index)
	}
	if endPatches[0].Op != "replace" {
		t.Fatalf("expected replace op, got %q", endPatches[0].Op)
	}
	if endPatches[0].Entry.Status != "success" {
		t.Fatalf("expected success status, got %q", endPatches[0].Entry.Status)
	}
}

func TestCodexNormalizerAuthRequiredErrorKind(t *testing.T) {
	n := NewCodexNormalizer("/repo", NewEntryIndexProvider())
	event, ok := n.ParseLine(`{"error":{"code":-32001,"message":"auth required"}}`)
	if !ok {
		t.Fatal("expected error line to parse")
	}
	patches := n.ProcessEvent(event)
	if len(patches) != 1 {
		t.Fatalf("expected one patch")
	}
	if patches[0].Entry.ErrorKind != "setup_required" {
		t.Fatalf("expected setup_required, got %q", patches[0].Entry.ErrorKind)
	}
}
