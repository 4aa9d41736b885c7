package notify

// Permission mirrors the browser notification permission states.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// RequestPermission resolves the push permission once at startup. Push is
// denied when disabled in configuration, granted when credentials are
// present and left at default otherwise.
func RequestPermission(enabled bool, p Pusher) Permission {
	if !enabled {
		return PermissionDenied
	}
	if p != nil && p.Configured() {
		return PermissionGranted
	}
	return PermissionDefault
}
