package util

import (
	"fmt"
	"strings"

	"github.com/aspenkv/aspen/lib/device"
	"github.com/aspenkv/aspen/lib/kv"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the common store configuration flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "table-size"
	cmd.PersistentFlags().Uint64(key, 1<<16, WrapString("Initial hash index size in buckets (must be a power of two)"))

	key = "memory-budget"
	cmd.PersistentFlags().Int64(key, 1024, WrapString("In-memory budget for the record log (in MB); cold records spill to the device once it is exhausted"))

	key = "device"
	cmd.PersistentFlags().String(key, "null", WrapString("Storage device for spilled records (null, memory, file)"))

	key = "device-path"
	cmd.PersistentFlags().String(key, "aspen.log", WrapString("Backing file path (only for the file device)"))

	key = "sessions"
	cmd.PersistentFlags().Int(key, 64, WrapString("Maximum number of concurrently open sessions"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Log level (debug, info, warning, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("aspen")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() (kv.Config, error) {
	level, err := kv.ParseLogLevel(viper.GetString("log-level"))
	if err != nil {
		return kv.Config{}, err
	}

	dev, err := GetDevice()
	if err != nil {
		return kv.Config{}, err
	}

	return kv.Config{
		TableSize:   viper.GetUint64("table-size"),
		LogBytes:    viper.GetInt64("memory-budget") * 1024 * 1024,
		Device:      dev,
		MaxSessions: viper.GetInt("sessions"),
		Logger:      kv.NewLogger("aspen", level),
	}, nil
}

// GetDevice creates a storage device based on configuration
func GetDevice() (device.Device, error) {
	switch viper.GetString("device") {
	case "null":
		return device.NewNullDevice(), nil
	case "memory":
		return device.NewMemoryDevice(), nil
	case "file":
		return device.NewFileDevice(viper.GetString("device-path"))
	default:
		return nil, fmt.Errorf("invalid device %s", viper.GetString("device"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
