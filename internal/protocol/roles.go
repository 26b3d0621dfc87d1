package protocol

// Role is the function a socket serves within its side of a room.
type Role string

const (
	RoleHost         Role = "host"
	RoleHostFile     Role = "host_file"
	RoleHostScreen   Role = "host_screen"
	RoleHostData     Role = "host_data" // legacy alias of host_file
	RoleViewer       Role = "viewer"
	RoleClient       Role = "client" // legacy alias of viewer
	RoleViewerFile   Role = "viewer_file"
	RoleViewerScreen Role = "viewer_screen"
)

// Side is one end of a room.
type Side int

const (
	SideNone Side = iota
	SideHost
	SideViewer
)

func (s Side) String() string {
	switch s {
	case SideHost:
		return "host"
	case SideViewer:
		return "viewer"
	}
	return "none"
}

// Opposite returns the other side of the room.
func (s Side) Opposite() Side {
	switch s {
	case SideHost:
		return SideViewer
	case SideViewer:
		return SideHost
	}
	return SideNone
}

// Canonical folds legacy aliases onto the roles they stand for.
func (r Role) Canonical() Role {
	switch r {
	case RoleClient:
		return RoleViewer
	case RoleHostData:
		return RoleHostFile
	}
	return r
}

// Valid reports whether r is a known role or alias.
func (r Role) Valid() bool {
	return r.Canonical().Side() != SideNone
}

func (r Role) Side() Side {
	switch r.Canonical() {
	case RoleHost, RoleHostFile, RoleHostScreen:
		return SideHost
	case RoleViewer, RoleViewerFile, RoleViewerScreen:
		return SideViewer
	}
	return SideNone
}

// IsFile reports whether the role carries FILE_DATA/FILE_END traffic.
func (r Role) IsFile() bool {
	c := r.Canonical()
	return c == RoleHostFile || c == RoleViewerFile
}

// IsScreen reports whether the role carries live frames.
func (r Role) IsScreen() bool {
	c := r.Canonical()
	return c == RoleHostScreen || c == RoleViewerScreen
}

// IsPrimary reports whether r is the control role of its side. A primary
// joiner always holds the main slot, replacing any stand-in.
func (r Role) IsPrimary() bool {
	c := r.Canonical()
	return c == RoleHost || c == RoleViewer
}

// MainEligible reports whether a joiner with this role may claim the main
// slot of its side when the slot is empty. viewer_file never carries
// control traffic.
func (r Role) MainEligible() bool {
	switch r.Canonical() {
	case RoleHost, RoleHostFile, RoleViewer, RoleViewerScreen:
		return true
	}
	return false
}

// PromotionOrder lists, for a side, the roles that may inherit the main
// slot when the current main closes, most preferred first.
func PromotionOrder(s Side) []Role {
	switch s {
	case SideHost:
		return []Role{RoleHost, RoleHostFile, RoleHostScreen}
	case SideViewer:
		return []Role{RoleViewer, RoleViewerScreen}
	}
	return nil
}

// Roles lists every canonical role of a side.
func Roles(s Side) []Role {
	switch s {
	case SideHost:
		return []Role{RoleHost, RoleHostFile, RoleHostScreen}
	case SideViewer:
		return []Role{RoleViewer, RoleViewerFile, RoleViewerScreen}
	}
	return nil
}
