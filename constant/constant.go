package constant

type SessionState string

const (
	SessionStateWait      SessionState = "WAIT"
	SessionStateRecording SessionState = "RECORDING"
	SessionStateDone      SessionState = "DONE"
	SessionStateFailed    SessionState = "FAILED"
)

func (s SessionState) String() string {
	return string(s)
}

type Platform string

const (
	PlatformChzzk  Platform = "chzzk"
	PlatformSoop   Platform = "soop"
	PlatformTwitch Platform = "twitch"
)

type CommandType string

const (
	CommandRecord CommandType = "record"
	CommandCancel CommandType = "cancel"
)

// PurposeTagSuccess names the segment-number set holding durably persisted
// segment numbers.
const PurposeTagSuccess = "success"

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
