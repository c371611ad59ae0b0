package claudecontract

// Environment variables read or set by the SDK side of the pipe.
const (
	// EnvEntrypoint identifies the SDK to the CLI process.
	EnvEntrypoint = "CLAUDE_CODE_ENTRYPOINT"

	// EnvSDKVersion carries the SDK version to the CLI process.
	EnvSDKVersion = "CLAUDE_AGENT_SDK_VERSION"

	// EnvSkipVersionCheck disables the minimum CLI version check when set.
	EnvSkipVersionCheck = "CLAUDE_AGENT_SDK_SKIP_VERSION_CHECK"

	// EnvConfigDir overrides the .claude configuration directory.
	EnvConfigDir = "CLAUDE_CONFIG_DIR"

	// EnvHome is the home directory used for credential discovery.
	EnvHome = "HOME"
)

// EntrypointGo is the value of EnvEntrypoint for this SDK.
const EntrypointGo = "sdk-go"

// SDKVersion is the version reported through EnvSDKVersion.
const SDKVersion = "0.3.0"
