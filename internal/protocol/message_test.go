package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodePrependsCmd(t *testing.T) {
	data, err := Encode(&FileList{Path: "/tmp"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"cmd":"file_list","path":"/tmp"}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	data = MustEncode(&Ready{})
	if string(data) != `{"cmd":"ready"}` {
		t.Fatalf("unexpected encoding %s", data)
	}
}

func TestDecodeJoin(t *testing.T) {
	cmd, err := Decode([]byte(`{"cmd":"join","room":"demo","password":"pw","role":"host_file","conn_id":3}`))
	if err != nil {
		t.Fatal(err)
	}
	j, ok := cmd.(*Join)
	if !ok {
		t.Fatalf("got %T, want *Join", cmd)
	}
	if j.Room != "demo" || j.Role != RoleHostFile || j.ConnID != 3 {
		t.Fatalf("bad join %+v", j)
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := Decode([]byte(`{"cmd":"launch_rockets"}`))
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for bad json")
	}
	if _, err := Peek([]byte(`{"path":"/"}`)); err == nil {
		t.Fatal("expected error for missing cmd")
	}
}

func TestDecodeServiceKeepsAction(t *testing.T) {
	cmd, err := Decode([]byte(`{"cmd":"service_restart","name":"nginx"}`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind() != KindServiceRestart {
		t.Fatalf("kind = %s", cmd.Kind())
	}
	if cmd.(*Service).Name != "nginx" {
		t.Fatal("name not decoded")
	}
}

func TestProgramRunArgsForms(t *testing.T) {
	for _, in := range []string{
		`{"cmd":"program_run","path":"ls","args":"-l -a"}`,
		`{"cmd":"program_run","path":"ls","args":["-l","-a"]}`,
	} {
		cmd, err := Decode([]byte(in))
		if err != nil {
			t.Fatal(err)
		}
		args := cmd.(*ProgramRun).Args
		if len(args) != 2 || args[0] != "-l" || args[1] != "-a" {
			t.Fatalf("%s: args = %q", in, args)
		}
	}
}

func TestStreamConfigInfoFlattens(t *testing.T) {
	data := MustEncode(&StreamConfigInfo{
		StreamSettings: StreamSettings{Quality: 70, FPS: 15, Scale: 80},
		Host:           &HostInfo{Hostname: "box", OS: "linux", Arch: "amd64"},
	})
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["cmd"] != "stream_config_info" || m["quality"] != float64(70) {
		t.Fatalf("unexpected %s", data)
	}
}

func TestRouteClassification(t *testing.T) {
	cases := map[Kind]Route{
		KindJoin:                   RouteSession,
		KindPing:                   RouteMirror,
		KindReady:                  RouteMirror,
		KindControl:                RouteToHost,
		KindFileDownloadCancel:     RouteToHost,
		KindSetStreamConfig:        RouteToHost,
		KindFileDownloadFolderDone: RouteToViewer,
		KindProgramResult:          RouteToViewer,
		Kind("nope"):               RouteNone,
	}
	for k, want := range cases {
		if got := k.Route(); got != want {
			t.Errorf("%s: route %d, want %d", k, got, want)
		}
	}
}

func TestEveryVariantRoundTripsItsTag(t *testing.T) {
	for kind, newCmd := range variants {
		data := MustEncode(newCmd())
		got, err := Peek(data)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if got != kind {
			t.Errorf("encoded tag %s, want %s", got, kind)
		}
		switch kind {
		case KindError, KindHostLeft, KindViewerLeft:
			// relay generated
		default:
			if kind.Route() == RouteNone {
				t.Errorf("%s has no route", kind)
			}
		}
	}
}

func TestFileDataCodec(t *testing.T) {
	chunk := bytes.Repeat([]byte{0xAB}, 1000)
	msg := EncodeFileData(10<<20, chunk)
	if ClassifyBinary(msg) != BinaryFileData {
		t.Fatal("not classified as file data")
	}
	off, got, err := DecodeFileData(msg)
	if err != nil {
		t.Fatal(err)
	}
	if off != 10<<20 || !bytes.Equal(got, chunk) {
		t.Fatalf("offset %d, %d bytes", off, len(got))
	}

	if ClassifyBinary(FileEnd()) != BinaryFileEnd {
		t.Fatal("FILE_END not classified")
	}
	if ClassifyBinary([]byte{0xFF, 0xD8, 0xFF}) != BinaryFrame {
		t.Fatal("jpeg not classified as frame")
	}
	if _, _, err := DecodeFileData([]byte("FILE_DATA\x00")); !errors.Is(err, ErrShortFileData) {
		t.Fatalf("err = %v", err)
	}
}

func TestRoles(t *testing.T) {
	if RoleClient.Canonical() != RoleViewer || RoleHostData.Canonical() != RoleHostFile {
		t.Fatal("aliases not folded")
	}
	if !RoleHostData.IsFile() || RoleHost.IsFile() {
		t.Fatal("IsFile wrong")
	}
	if RoleHostScreen.MainEligible() {
		t.Fatal("host_screen must not claim main on join")
	}
	if !RoleViewerScreen.MainEligible() || RoleViewerFile.MainEligible() {
		t.Fatal("viewer main eligibility wrong")
	}
	if !RoleClient.IsPrimary() || RoleHostFile.IsPrimary() {
		t.Fatal("IsPrimary wrong")
	}
	if len(Roles(SideViewer)) != 3 || len(PromotionOrder(SideViewer)) != 2 {
		t.Fatal("viewer_file is a viewer role but never promoted")
	}
	if RoleClient.Side() != SideViewer || Role("admin").Valid() {
		t.Fatal("side classification wrong")
	}
	if SideHost.Opposite() != SideViewer {
		t.Fatal("opposite wrong")
	}
}
