package config

// ServerConfig is the complete runtime configuration of the gateway.
type ServerConfig struct {
	// Listen is the TCP address the listener binds, e.g. ":2222".
	Listen string

	// VersionString is the software name in the identification line,
	// sent as "SSH-2.0-<VersionString>".
	VersionString string

	// ProxyTo, when non-empty, forwards every session channel's byte
	// stream to this upstream address instead of spawning a child.
	// A translation profile may override it per connection.
	ProxyTo string

	// Tag identifies this listener in translation queries.
	Tag string

	// SftpServer is the executable run for the "sftp" subsystem.
	SftpServer string

	HostKey     HostKeyConfig
	Auth        AuthConfig
	Limits      LimitsConfig
	Rekey       RekeyConfig
	Translation TranslationConfig
}

type HostKeyConfig struct {
	// Path of the private key file (OpenSSH format).
	Path string

	// Type of key to generate: "ed25519", "ecdsa", "rsa".
	Type string

	// Generate a key at Path if none exists.
	Generate bool
}

type AuthConfig struct {
	// MaxAttempts is the USERAUTH_REQUEST budget per connection.
	MaxAttempts int

	// Methods that may succeed ("password", "publickey").
	Methods []string

	// Banner sent before authentication, empty for none.
	Banner string
}

type LimitsConfig struct {
	// ReceiveWindow is the initial per-channel receive window in bytes.
	ReceiveWindow uint32

	// MaxPacket is the per-channel maximum packet size we advertise.
	MaxPacket uint32

	// MaxChannels per connection; exceeding it fails CHANNEL_OPEN with
	// RESOURCE_SHORTAGE.
	MaxChannels int

	// AcceptRate/AcceptBurst throttle the listener's accept loop.
	AcceptRate  float64
	AcceptBurst int
}

type RekeyConfig struct {
	// Bytes per direction before a rekey is initiated.
	Bytes uint64

	// Packets per direction before a rekey is initiated.
	Packets uint32
}

type TranslationConfig struct {
	// Socket is the path of the translation server's unix socket,
	// empty to disable translation lookups.
	Socket string
}
