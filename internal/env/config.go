package env

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DebugHTTP bool `env:"RESPWIRE_DEBUG_HTTP"`

	// Trace logs every request frame at debug level
	Trace bool `env:"RESPWIRE_TRACE"`

	// MaxFrameSize bounds a single request frame, zero uses the transport default
	MaxFrameSize int `env:"RESPWIRE_MAX_FRAME_SIZE"`

	// RenameFile names a TOML file with a [rename] table of commands
	RenameFile string `env:"RESPWIRE_RENAME_FILE"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

type renameFile struct {
	Rename map[string]string `toml:"rename"`
}

// LoadCommandRenames reads the [rename] table of a TOML file. Each entry maps a command to the
// name clients must use for it; an empty name disables the command.
func LoadCommandRenames(path string) (map[string]string, error) {
	var f renameFile

	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("loading command renames from %s: %w", path, err)
	}

	if f.Rename == nil {
		f.Rename = map[string]string{}
	}

	return f.Rename, nil
}
