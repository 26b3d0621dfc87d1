// Package protocol defines the shared control vocabulary, connection roles
// and binary framing used between the relay, hosts and viewers.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned by Decode for a well-formed envelope whose
// cmd is not part of the vocabulary.
var ErrUnknownCommand = errors.New("unknown command")

// Kind is the value of the "cmd" field that tags every JSON message.
type Kind string

// Session and heartbeat commands.
const (
	KindJoin       Kind = "join"
	KindReady      Kind = "ready"
	KindPing       Kind = "ping"
	KindPong       Kind = "pong"
	KindHostLeft   Kind = "host_left"
	KindViewerLeft Kind = "viewer_left"
	KindError      Kind = "error"
)

// Viewer to host commands.
const (
	KindControl            Kind = "control"
	KindTerminal           Kind = "terminal"
	KindFileList           Kind = "file_list"
	KindFileDownload       Kind = "file_download"
	KindFileDownloadCancel Kind = "file_download_cancel"
	KindFileUpload         Kind = "file_upload"
	KindFileUploadInfo     Kind = "file_upload_info"
	KindFileUploadChunk    Kind = "file_upload_chunk"
	KindFileDelete         Kind = "file_delete"
	KindFileEdit           Kind = "file_edit"
	KindFileMonitor        Kind = "file_monitor"
	KindServiceStart       Kind = "service_start"
	KindServiceStop        Kind = "service_stop"
	KindServiceRestart     Kind = "service_restart"
	KindProgramRun         Kind = "program_run"
	KindStreamStart        Kind = "stream_start"
	KindStreamStop         Kind = "stream_stop"
	KindSetStreamConfig    Kind = "set_stream_config"
)

// Host to viewer commands.
const (
	KindTerminalOut             Kind = "terminal_out"
	KindFileListResult          Kind = "file_list_result"
	KindFileDownloadResult      Kind = "file_download_result"
	KindFileDownloadStart       Kind = "file_download_start"
	KindFileDownloadInfo        Kind = "file_download_info"
	KindFileDownloadChunk       Kind = "file_download_chunk"
	KindFileDownloadComplete    Kind = "file_download_complete"
	KindFileDownloadStatus      Kind = "file_download_status"
	KindFileDownloadError       Kind = "file_download_error"
	KindFileDownloadFolderBegin Kind = "file_download_folder_begin"
	KindFileDownloadFolderDone  Kind = "file_download_folder_done"
	KindFileDownloadCancelled   Kind = "file_download_cancelled"
	KindFileUploadResult        Kind = "file_upload_result"
	KindFileDeleteResult        Kind = "file_delete_result"
	KindFileEditResult          Kind = "file_edit_result"
	KindFileMonitorResult       Kind = "file_monitor_result"
	KindServiceResult           Kind = "service_result"
	KindProgramResult           Kind = "program_result"
	KindStreamConfigUpdated     Kind = "stream_config_updated"
	KindStreamConfigInfo        Kind = "stream_config_info"
)

// Route says which way the relay forwards a command.
type Route int

const (
	RouteNone     Route = iota
	RouteSession        // handled by the relay itself (join)
	RouteMirror         // forwarded to the opposite side (ping, pong, ready)
	RouteToHost         // viewer -> host main connection
	RouteToViewer       // host -> viewer main connection
)

// Route classifies the command kind for the relay.
func (k Kind) Route() Route {
	switch k {
	case KindJoin:
		return RouteSession
	case KindPing, KindPong, KindReady:
		return RouteMirror
	case KindControl, KindTerminal, KindFileList, KindFileDownload,
		KindFileDownloadCancel, KindFileUpload, KindFileUploadInfo,
		KindFileUploadChunk, KindFileDelete, KindFileEdit, KindFileMonitor,
		KindServiceStart, KindServiceStop, KindServiceRestart, KindProgramRun,
		KindStreamStart, KindStreamStop, KindSetStreamConfig:
		return RouteToHost
	case KindTerminalOut, KindFileListResult, KindFileDownloadResult,
		KindFileDownloadStart, KindFileDownloadInfo, KindFileDownloadChunk,
		KindFileDownloadComplete, KindFileDownloadStatus, KindFileDownloadError,
		KindFileDownloadFolderBegin, KindFileDownloadFolderDone,
		KindFileDownloadCancelled, KindFileUploadResult, KindFileDeleteResult,
		KindFileEditResult, KindFileMonitorResult, KindServiceResult,
		KindProgramResult, KindStreamConfigUpdated, KindStreamConfigInfo:
		return RouteToViewer
	}
	return RouteNone
}

// Command is one variant of the control vocabulary.
type Command interface {
	Kind() Kind
}

// Envelope is the minimal view of any JSON message.
type Envelope struct {
	Cmd Kind `json:"cmd"`
}

// Peek extracts only the command tag.
func Peek(data []byte) (Kind, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Cmd == "" {
		return "", fmt.Errorf("decode envelope: missing cmd")
	}
	return env.Cmd, nil
}

// Decode parses a JSON message into its concrete command variant.
func Decode(data []byte) (Command, error) {
	kind, err := Peek(data)
	if err != nil {
		return nil, err
	}
	newCmd, ok := variants[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, kind)
	}
	cmd := newCmd()
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return cmd, nil
}

// Encode marshals a command and prepends its "cmd" tag.
func Encode(c Command) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Kind(), err)
	}
	tag, _ := json.Marshal(c.Kind())
	out := make([]byte, 0, len(body)+len(tag)+8)
	out = append(out, `{"cmd":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// MustEncode is Encode for commands whose fields cannot fail to marshal.
func MustEncode(c Command) []byte {
	data, err := Encode(c)
	if err != nil {
		panic(err)
	}
	return data
}

var variants = map[Kind]func() Command{
	KindJoin:       func() Command { return &Join{} },
	KindReady:      func() Command { return &Ready{} },
	KindPing:       func() Command { return &Ping{} },
	KindPong:       func() Command { return &Pong{} },
	KindHostLeft:   func() Command { return &HostLeft{} },
	KindViewerLeft: func() Command { return &ViewerLeft{} },
	KindError:      func() Command { return &Error{} },

	KindControl:            func() Command { return &Control{} },
	KindTerminal:           func() Command { return &Terminal{} },
	KindFileList:           func() Command { return &FileList{} },
	KindFileDownload:       func() Command { return &FileDownload{} },
	KindFileDownloadCancel: func() Command { return &FileDownloadCancel{} },
	KindFileUpload:         func() Command { return &FileUpload{} },
	KindFileUploadInfo:     func() Command { return &FileUploadInfo{} },
	KindFileUploadChunk:    func() Command { return &FileUploadChunk{} },
	KindFileDelete:         func() Command { return &FileDelete{} },
	KindFileEdit:           func() Command { return &FileEdit{} },
	KindFileMonitor:        func() Command { return &FileMonitor{} },
	KindServiceStart:       func() Command { return &Service{Action: KindServiceStart} },
	KindServiceStop:        func() Command { return &Service{Action: KindServiceStop} },
	KindServiceRestart:     func() Command { return &Service{Action: KindServiceRestart} },
	KindProgramRun:         func() Command { return &ProgramRun{} },
	KindStreamStart:        func() Command { return &StreamStart{} },
	KindStreamStop:         func() Command { return &StreamStop{} },
	KindSetStreamConfig:    func() Command { return &SetStreamConfig{} },

	KindTerminalOut:             func() Command { return &TerminalOut{} },
	KindFileListResult:          func() Command { return &FileListResult{} },
	KindFileDownloadResult:      func() Command { return &FileDownloadResult{} },
	KindFileDownloadStart:       func() Command { return &FileDownloadStart{} },
	KindFileDownloadInfo:        func() Command { return &FileDownloadInfo{} },
	KindFileDownloadChunk:       func() Command { return &FileDownloadChunk{} },
	KindFileDownloadComplete:    func() Command { return &FileDownloadComplete{} },
	KindFileDownloadStatus:      func() Command { return &FileDownloadStatus{} },
	KindFileDownloadError:       func() Command { return &FileDownloadError{} },
	KindFileDownloadFolderBegin: func() Command { return &FileDownloadFolderBegin{} },
	KindFileDownloadFolderDone:  func() Command { return &FileDownloadFolderDone{} },
	KindFileDownloadCancelled:   func() Command { return &FileDownloadCancelled{} },
	KindFileUploadResult:        func() Command { return &FileUploadResult{} },
	KindFileDeleteResult:        func() Command { return &FileDeleteResult{} },
	KindFileEditResult:          func() Command { return &FileEditResult{} },
	KindFileMonitorResult:       func() Command { return &FileMonitorResult{} },
	KindServiceResult:           func() Command { return &ServiceResult{} },
	KindProgramResult:           func() Command { return &ProgramResult{} },
	KindStreamConfigUpdated:     func() Command { return &StreamConfigUpdated{} },
	KindStreamConfigInfo:        func() Command { return &StreamConfigInfo{} },
}
