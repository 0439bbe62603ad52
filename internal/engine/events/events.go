package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/thindl/thindl/internal/engine/types"
)

// ProgressMsg represents a progress update from a dispatcher
type ProgressMsg struct {
	DownloadID string
	ID         int64
	Downloaded int64
	Total      int64 // -1 when the server streams without a length
	Percent    int   // -1 when Total is unknown
	Elapsed    time.Duration
}

// DownloadStartedMsg is sent on the first event seen for a download
type DownloadStartedMsg struct {
	DownloadID string
	ID         int64
	URL        string
	Filename   string
	DestPath   string
	Priority   types.Priority
}

// DownloadCompleteMsg signals that the download finished successfully
type DownloadCompleteMsg struct {
	DownloadID string
	ID         int64
	Filename   string
	Elapsed    time.Duration
	Total      int64
	MIME       string // sniffed from the file content, empty if unknown
}

// DownloadPausedMsg is sent instead of an error when a resumable download
// was cancelled. The partial file is left on disk.
type DownloadPausedMsg struct {
	DownloadID string
	ID         int64
	Filename   string
	Downloaded int64
}

// DownloadErrorMsg signals that a download failed
type DownloadErrorMsg struct {
	DownloadID string
	ID         int64
	Filename   string
	Code       types.ErrorCode
	Err        error
}

func (m DownloadErrorMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		DownloadID string `json:"DownloadID"`
		ID         int64  `json:"ID"`
		Filename   string `json:"Filename,omitempty"`
		Code       int    `json:"Code"`
		Err        string `json:"Err,omitempty"`
	}

	out := encoded{
		DownloadID: m.DownloadID,
		ID:         m.ID,
		Filename:   m.Filename,
		Code:       int(m.Code),
	}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}

	return json.Marshal(out)
}

func (m *DownloadErrorMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		DownloadID string          `json:"DownloadID"`
		ID         int64           `json:"ID"`
		Filename   string          `json:"Filename"`
		Code       int             `json:"Code"`
		Err        json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.DownloadID = aux.DownloadID
	m.ID = aux.ID
	m.Filename = aux.Filename
	m.Code = types.ErrorCode(aux.Code)
	m.Err = nil

	if len(aux.Err) == 0 {
		return nil
	}

	var errStr string
	if err := json.Unmarshal(aux.Err, &errStr); err == nil {
		if errStr != "" {
			m.Err = errors.New(errStr)
		}
		return nil
	}

	raw := string(aux.Err)
	if raw != "" && raw != "null" {
		m.Err = errors.New(raw)
	}
	return nil
}
