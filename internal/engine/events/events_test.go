package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/thindl/thindl/internal/engine/types"
)

func TestMessageTypes_AreDistinct(t *testing.T) {
	messages := []interface{}{
		ProgressMsg{DownloadID: "progress"},
		DownloadStartedMsg{DownloadID: "started"},
		DownloadCompleteMsg{DownloadID: "complete"},
		DownloadPausedMsg{DownloadID: "paused"},
		DownloadErrorMsg{DownloadID: "error"},
	}

	typeNames := make(map[string]bool)
	for _, msg := range messages {
		typeName := fmt.Sprintf("%T", msg)
		if typeNames[typeName] {
			t.Errorf("Duplicate type: %s", typeName)
		}
		typeNames[typeName] = true
	}

	if len(typeNames) != 5 {
		t.Errorf("Expected 5 distinct types, got %d", len(typeNames))
	}
}

func TestDownloadErrorMsg_JSON(t *testing.T) {
	sent := DownloadErrorMsg{
		DownloadID: "abc",
		ID:         4,
		Filename:   "file.bin",
		Code:       types.ErrorTooManyRedirects,
		Err:        errors.New("too many redirects"),
	}

	data, err := json.Marshal(sent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got DownloadErrorMsg
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != 4 || got.Code != types.ErrorTooManyRedirects || got.Filename != "file.bin" {
		t.Errorf("unexpected decode: %+v", got)
	}
	if got.Err == nil || got.Err.Error() != "too many redirects" {
		t.Errorf("Err not preserved: %v", got.Err)
	}
}

func TestDownloadErrorMsg_UnmarshalNonStringErr(t *testing.T) {
	var got DownloadErrorMsg
	if err := json.Unmarshal([]byte(`{"DownloadID":"x","Err":{}}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Err == nil || got.Err.Error() != "{}" {
		t.Errorf("expected raw payload as error, got %v", got.Err)
	}

	got = DownloadErrorMsg{}
	if err := json.Unmarshal([]byte(`{"DownloadID":"x","Err":null}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Err != nil {
		t.Errorf("null Err should decode to nil, got %v", got.Err)
	}
}
