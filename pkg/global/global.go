package global

var (
	Version        = "0.0.1"
	BuildTime      = "none"
	Verbose        = false
	ConfigFilename = "ltxkit.yaml"
)
