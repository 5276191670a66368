package loadpipe

const version = "0.3.0"

// Environment variables that point the loader and the query tool at a
// server when the config leaves the address empty.
const (
	EnvLoaderHost = "IQUERY_HOST"
	EnvLoaderPort = "IQUERY_PORT"
)

// Version is the loadpipe release.
func Version() string {
	return version
}
