package config

import "path/filepath"

const (
	// DefaultReceiveWindow is the initial receive window advertised on
	// CHANNEL_OPEN_CONFIRMATION (1 MiB).
	DefaultReceiveWindow = 1024 * 1024

	// DefaultMaxPacket is the per-channel maximum packet size we advertise.
	DefaultMaxPacket = 32 * 1024

	// DefaultRekeyBytes triggers a rekey after this much traffic in either
	// direction (1 GiB).
	DefaultRekeyBytes = 1 << 30

	// DefaultRekeyPackets triggers a rekey before the 32-bit sequence
	// number can wrap.
	DefaultRekeyPackets = 1 << 31

	// DefaultAuthAttempts is the USERAUTH_REQUEST budget per connection.
	DefaultAuthAttempts = 10
)

// DefaultServerConfig returns the built-in configuration; viper overlays
// the config file and flags on top of these values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:        ":2222",
		VersionString: "lukko",
		ProxyTo:       "",
		Tag:           "",
		SftpServer:    "/usr/lib/ssh/sftp-server",
		HostKey: HostKeyConfig{
			Path:     filepath.Join(BuildLukkoDirPath(), "host_key"),
			Type:     "ed25519",
			Generate: true,
		},
		Auth: AuthConfig{
			MaxAttempts: DefaultAuthAttempts,
			Methods:     []string{"publickey", "password"},
			Banner:      "",
		},
		Limits: LimitsConfig{
			ReceiveWindow: DefaultReceiveWindow,
			MaxPacket:     DefaultMaxPacket,
			MaxChannels:   64,
			AcceptRate:    100,
			AcceptBurst:   100,
		},
		Rekey: RekeyConfig{
			Bytes:   DefaultRekeyBytes,
			Packets: DefaultRekeyPackets,
		},
		Translation: TranslationConfig{
			Socket: "",
		},
	}
}
