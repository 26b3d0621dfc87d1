package protocol

import (
	"encoding/json"
	"strings"
)

// Join is the first message every socket sends after the handshake.
type Join struct {
	Room           string `json:"room"`
	Password       string `json:"password"`
	Role           Role   `json:"role"`
	ConnID         int    `json:"conn_id"`
	ConnectionType string `json:"connection_type,omitempty"`
}

type (
	Ready      struct{}
	Ping       struct{}
	Pong       struct{}
	HostLeft   struct{}
	ViewerLeft struct{}
)

// Error reports a relay-level failure such as a rejected join.
type Error struct {
	Message string `json:"message"`
}

func (*Join) Kind() Kind       { return KindJoin }
func (*Ready) Kind() Kind      { return KindReady }
func (*Ping) Kind() Kind       { return KindPing }
func (*Pong) Kind() Kind       { return KindPong }
func (*HostLeft) Kind() Kind   { return KindHostLeft }
func (*ViewerLeft) Kind() Kind { return KindViewerLeft }
func (*Error) Kind() Kind      { return KindError }

// Control carries one mouse or keyboard action. Coordinates are in the
// scaled frame space the viewer sees.
type Control struct {
	Action string  `json:"action"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Button string  `json:"button,omitempty"`
	Delta  int     `json:"delta,omitempty"`
	Key    string  `json:"key,omitempty"`
	Text   string  `json:"text,omitempty"`
}

type Terminal struct {
	Data string `json:"data"`
}

type FileList struct {
	Path string `json:"path"`
}

// FileDownload requests a file or folder. Chunked selects the round-robin
// chunk mode with ConnCount sockets and ChunkSize bytes per chunk.
type FileDownload struct {
	Path       string `json:"path"`
	DownloadID string `json:"download_id,omitempty"`
	ResumeFrom int64  `json:"resume_from,omitempty"`
	Chunked    bool   `json:"chunked,omitempty"`
	ConnCount  int    `json:"conn_count,omitempty"`
	ChunkSize  int64  `json:"chunk_size,omitempty"`
}

type FileDownloadCancel struct {
	DownloadID string `json:"download_id,omitempty"`
	FolderID   string `json:"folder_id,omitempty"`
}

// FileUpload is the legacy single-message upload.
type FileUpload struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Data string `json:"data"`
	Type string `json:"type,omitempty"`
}

// FileUploadInfo opens an indexed upload session.
type FileUploadInfo struct {
	UploadID    string `json:"upload_id"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Type        string `json:"type,omitempty"`
}

type FileUploadChunk struct {
	UploadID string `json:"upload_id"`
	Index    int    `json:"index"`
	Data     string `json:"data"`
}

type FileDelete struct {
	Path string `json:"path"`
}

type FileEdit struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

type FileMonitor struct {
	Path         string `json:"path"`
	AutoDownload bool   `json:"auto_download,omitempty"`
}

// Service is service_start, service_stop or service_restart.
type Service struct {
	Action Kind   `json:"-"`
	Name   string `json:"name"`
}

// Args accepts either a JSON list or a space separated string.
type Args []string

func (a *Args) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = strings.Fields(s)
	return nil
}

type ProgramRun struct {
	Path       string `json:"path"`
	Args       Args   `json:"args,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
}

type (
	StreamStart struct{}
	StreamStop  struct{}
)

// SetStreamConfig hot-patches the capture settings. Nil fields are left
// unchanged.
type SetStreamConfig struct {
	Quality *int `json:"quality,omitempty"`
	FPS     *int `json:"fps,omitempty"`
	Scale   *int `json:"scale,omitempty"`
}

func (*Control) Kind() Kind            { return KindControl }
func (*Terminal) Kind() Kind           { return KindTerminal }
func (*FileList) Kind() Kind           { return KindFileList }
func (*FileDownload) Kind() Kind       { return KindFileDownload }
func (*FileDownloadCancel) Kind() Kind { return KindFileDownloadCancel }
func (*FileUpload) Kind() Kind         { return KindFileUpload }
func (*FileUploadInfo) Kind() Kind     { return KindFileUploadInfo }
func (*FileUploadChunk) Kind() Kind    { return KindFileUploadChunk }
func (*FileDelete) Kind() Kind         { return KindFileDelete }
func (*FileEdit) Kind() Kind           { return KindFileEdit }
func (*FileMonitor) Kind() Kind        { return KindFileMonitor }
func (s *Service) Kind() Kind          { return s.Action }
func (*ProgramRun) Kind() Kind         { return KindProgramRun }
func (*StreamStart) Kind() Kind        { return KindStreamStart }
func (*StreamStop) Kind() Kind         { return KindStreamStop }
func (*SetStreamConfig) Kind() Kind    { return KindSetStreamConfig }

type TerminalOut struct {
	Data string `json:"data"`
}

// FileItem is one directory entry in a file_list_result.
type FileItem struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
	Error    string  `json:"error,omitempty"`
}

type FileListResult struct {
	Path  string     `json:"path"`
	Items []FileItem `json:"items,omitempty"`
	Error string     `json:"error,omitempty"`
}

// FileDownloadResult carries a whole file inline (monitor auto-download).
type FileDownloadResult struct {
	Path  string `json:"path,omitempty"`
	Type  string `json:"type,omitempty"`
	Name  string `json:"name,omitempty"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// FileDownloadStart announces one file of a download. Single-file
// downloads fill Name/Size; folder members fill FileSize.
type FileDownloadStart struct {
	DownloadID  string `json:"download_id"`
	Name        string `json:"name,omitempty"`
	Size        int64  `json:"size,omitempty"`
	FilePath    string `json:"file_path"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size,omitempty"`
	Type        string `json:"type,omitempty"`
	ChunkSize   int64  `json:"chunk_size,omitempty"`
	TotalChunks int64  `json:"total_chunks,omitempty"`
	FolderID    string `json:"folder_id,omitempty"`
	ResumeFrom  int64  `json:"resume_from"`
}

type FileDownloadInfo struct {
	DownloadID   string `json:"download_id"`
	Path         string `json:"path"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ChunkSize    int64  `json:"chunk_size"`
	TotalChunks  int64  `json:"total_chunks"`
	TargetConnID int    `json:"target_conn_id"`
	ResumeFrom   int64  `json:"resume_from"`
}

type FileDownloadChunk struct {
	DownloadID string `json:"download_id"`
	Index      int    `json:"index"`
	Data       string `json:"data"`
}

type FileDownloadComplete struct {
	DownloadID string `json:"download_id"`
	Path       string `json:"path,omitempty"`
}

type FileDownloadStatus struct {
	DownloadID string `json:"download_id"`
	Status     string `json:"status"`
}

type FileDownloadError struct {
	Error      string `json:"error"`
	DownloadID string `json:"download_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

type FileDownloadFolderBegin struct {
	FolderID   string `json:"folder_id"`
	Name       string `json:"name"`
	TotalFiles int    `json:"total_files"`
	TotalBytes int64  `json:"total_bytes"`
}

type FileDownloadFolderDone struct {
	FolderID string `json:"folder_id"`
}

type FileDownloadCancelled struct {
	DownloadID string `json:"download_id"`
}

// OpResult is the shared shape of the simple file operation replies.
type OpResult struct {
	Success bool   `json:"success,omitempty"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

type FileUploadResult struct {
	OpResult
	UploadID string `json:"upload_id,omitempty"`
}

type (
	FileDeleteResult struct{ OpResult }
	FileEditResult   struct{ OpResult }
)

// MonitoredFile is one regular file seen in a monitored folder.
type MonitoredFile struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

type FileMonitorResult struct {
	Path    string          `json:"path,omitempty"`
	Files   []MonitoredFile `json:"files,omitempty"`
	Stopped bool            `json:"stopped,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type ServiceResult struct {
	Action  string `json:"action"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ProgramResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Error   string `json:"error,omitempty"`
}

// StreamSettings is the hot-reloadable part of the host configuration.
type StreamSettings struct {
	Quality int `json:"quality"`
	FPS     int `json:"fps"`
	Scale   int `json:"scale"`
}

type StreamConfigUpdated struct {
	StreamSettings
}

// HostInfo describes the host machine to the viewer.
type HostInfo struct {
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	OSVersion     string   `json:"os_version,omitempty"`
	Arch          string   `json:"arch"`
	CPUCount      int      `json:"cpu_count,omitempty"`
	MemoryTotal   uint64   `json:"memory_total,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds,omitempty"`
	Username      string   `json:"username,omitempty"`
	LocalIPs      []string `json:"local_ips,omitempty"`
	Version       string   `json:"version"`
}

type StreamConfigInfo struct {
	StreamSettings
	Host *HostInfo `json:"host,omitempty"`
}

func (*TerminalOut) Kind() Kind             { return KindTerminalOut }
func (*FileListResult) Kind() Kind          { return KindFileListResult }
func (*FileDownloadResult) Kind() Kind      { return KindFileDownloadResult }
func (*FileDownloadStart) Kind() Kind       { return KindFileDownloadStart }
func (*FileDownloadInfo) Kind() Kind        { return KindFileDownloadInfo }
func (*FileDownloadChunk) Kind() Kind       { return KindFileDownloadChunk }
func (*FileDownloadComplete) Kind() Kind    { return KindFileDownloadComplete }
func (*FileDownloadStatus) Kind() Kind      { return KindFileDownloadStatus }
func (*FileDownloadError) Kind() Kind       { return KindFileDownloadError }
func (*FileDownloadFolderBegin) Kind() Kind { return KindFileDownloadFolderBegin }
func (*FileDownloadFolderDone) Kind() Kind  { return KindFileDownloadFolderDone }
func (*FileDownloadCancelled) Kind() Kind   { return KindFileDownloadCancelled }
func (*FileUploadResult) Kind() Kind        { return KindFileUploadResult }
func (*FileDeleteResult) Kind() Kind        { return KindFileDeleteResult }
func (*FileEditResult) Kind() Kind          { return KindFileEditResult }
func (*FileMonitorResult) Kind() Kind       { return KindFileMonitorResult }
func (*ServiceResult) Kind() Kind           { return KindServiceResult }
func (*ProgramResult) Kind() Kind           { return KindProgramResult }
func (*StreamConfigUpdated) Kind() Kind     { return KindStreamConfigUpdated }
func (*StreamConfigInfo) Kind() Kind        { return KindStreamConfigInfo }
