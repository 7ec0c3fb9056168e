package share

// Set with -ldflags "-X github.com/abcdlsj/tele/internal/share.Version=...".
var (
	Version    = "dev"
	GitHash    = ""
	BuildStamp = "unknown"
)

func GetVersion() string {
	if GitHash == "" {
		return Version
	}
	return Version + "-" + GitHash
}
