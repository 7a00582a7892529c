package version

var (
	// CliVersion is the version reported by the uart2wifi cli
	CliVersion = "0.2.0"
	// LibVersion is the version of the bridge library
	LibVersion = "0.2.0"
)
