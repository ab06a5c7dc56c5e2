package config

import (
	"os"
	"path/filepath"

	"github.com/pfirsich/cm4all-lukko/lib/util"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetLukkoLogger()
)

const LUKKO_BASE_DIR = ".lukko"

func InitConfig() {
	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		// Set up viper to use the default config path $HOME/.lukko/
		viper.AddConfigPath(BuildLukkoDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Load defaults
	setDefaults()

	// handle config file creating it if needed
	handleConfigFile()
}

func setDefaults() {
	defaults := DefaultServerConfig()

	viper.SetDefault("listen", defaults.Listen)
	viper.SetDefault("version_string", defaults.VersionString)
	viper.SetDefault("proxy_to", defaults.ProxyTo)
	viper.SetDefault("tag", defaults.Tag)
	viper.SetDefault("sftp_server", defaults.SftpServer)

	viper.SetDefault("host_key.path", defaults.HostKey.Path)
	viper.SetDefault("host_key.type", defaults.HostKey.Type)
	viper.SetDefault("host_key.generate", defaults.HostKey.Generate)

	viper.SetDefault("auth.max_attempts", defaults.Auth.MaxAttempts)
	viper.SetDefault("auth.methods", defaults.Auth.Methods)
	viper.SetDefault("auth.banner", defaults.Auth.Banner)

	viper.SetDefault("limits.receive_window", defaults.Limits.ReceiveWindow)
	viper.SetDefault("limits.max_packet", defaults.Limits.MaxPacket)
	viper.SetDefault("limits.max_channels", defaults.Limits.MaxChannels)
	viper.SetDefault("limits.accept_rate", defaults.Limits.AcceptRate)
	viper.SetDefault("limits.accept_burst", defaults.Limits.AcceptBurst)

	viper.SetDefault("rekey.bytes", defaults.Rekey.Bytes)
	viper.SetDefault("rekey.packets", defaults.Rekey.Packets)

	viper.SetDefault("translation.socket", defaults.Translation.Socket)
}

// NewServerConfigFromViper creates a new ServerConfig from current viper settings.
func NewServerConfigFromViper() *ServerConfig {
	return &ServerConfig{
		Listen:        viper.GetString("listen"),
		VersionString: viper.GetString("version_string"),
		ProxyTo:       viper.GetString("proxy_to"),
		Tag:           viper.GetString("tag"),
		SftpServer:    viper.GetString("sftp_server"),
		HostKey: HostKeyConfig{
			Path:     viper.GetString("host_key.path"),
			Type:     viper.GetString("host_key.type"),
			Generate: viper.GetBool("host_key.generate"),
		},
		Auth: AuthConfig{
			MaxAttempts: viper.GetInt("auth.max_attempts"),
			Methods:     viper.GetStringSlice("auth.methods"),
			Banner:      viper.GetString("auth.banner"),
		},
		Limits: LimitsConfig{
			ReceiveWindow: viper.GetUint32("limits.receive_window"),
			MaxPacket:     viper.GetUint32("limits.max_packet"),
			MaxChannels:   viper.GetInt("limits.max_channels"),
			AcceptRate:    viper.GetFloat64("limits.accept_rate"),
			AcceptBurst:   viper.GetInt("limits.accept_burst"),
		},
		Rekey: RekeyConfig{
			Bytes:   viper.GetUint64("rekey.bytes"),
			Packets: viper.GetUint32("rekey.packets"),
		},
		Translation: TranslationConfig{
			Socket: viper.GetString("translation.socket"),
		},
	}
}

func createDefaultConfig(defaultConfigDir string) {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	// Ensure directory exists
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		log.Fatalf("Could not create config directory: %s", err)
	}

	// Write current config file
	if err := viper.WriteConfigAs(defaultConfigFile); err != nil {
		log.Fatalf("Could not write default config file: %s", err)
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
}

func handleConfigFile() {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if CfgFile != "" {
				log.Fatalf("Config file %s is not found: %s", CfgFile, err)
			} else {
				createDefaultConfig(BuildLukkoDirPath())
			}
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	} else {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

func BuildLukkoDirPath() string {
	return filepath.Join(util.UserHome(), LUKKO_BASE_DIR)
}
