// Package core contains the configuration and the project model shared by the
// rest of the language server.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/shlex"
	"github.com/please-build/gcfg"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/psalm-langserver/src/cli"
	"github.com/thought-machine/psalm-langserver/src/fs"
)

var log = logging.MustGetLogger("core")

// ConfigFileName is the name of the per-project config file, found at a workspace root.
const ConfigFileName = ".psalmlsconfig"

// MachineConfigFileName is the machine-level config file.
const MachineConfigFileName = "/etc/psalmlsconfig"

// UserConfigFileName is the user-level config file.
const UserConfigFileName = "~/.config/psalmls/config"

// DefaultProjectName is the composer project we lint unless configured otherwise.
const DefaultProjectName = "plotbox-io/plotbox-app"

// A Configuration contains all the settings that can be configured about the language server.
// It is populated from gcfg files (the same syntax as git config).
type Configuration struct {
	Project struct {
		Name      string   `help:"The composer project name (config.name in the manifest) that identifies a project we should lint."`
		Manifest  string   `help:"Name of the manifest file at the project root."`
		Extension []string `help:"File extensions that get linted. Repeat for more than one. A blank value (extension =) lints every file."`
	}
	Docker struct {
		ComposeCommand string   `help:"Command used to invoke docker compose. Split into words like a shell would."`
		Service        string   `help:"The docker-compose service that psalm runs in."`
		ExecFlag       []string `help:"Flags passed to 'exec'. -T is needed since we pipe between the two stages."`
	}
	Psalm struct {
		PHP       string       `help:"PHP binary inside the container."`
		PHPIni    []string     `help:"ini settings for PHP when running psalm, each passed as -d."`
		Binary    string       `help:"Path to psalm, relative to the project root inside the container."`
		Flag      []string     `help:"Flags passed to psalm before the file being linted."`
		Timeout   cli.Duration `help:"Timeout for a single lint run. Zero means no timeout."`
		MaxStderr cli.ByteSize `help:"Maximum amount of stderr to keep from each run for error messages."`
	}
	Baseline struct {
		Enabled bool     `help:"Filters psalm's output through sarb to remove issues in the baseline."`
		PHPIni  []string `help:"ini settings for PHP when running sarb, each passed as -d."`
		Binary  string   `help:"Path to sarb, relative to the project root inside the container."`
		File    string   `help:"The baseline file."`
		Flag    []string `help:"Flags passed to sarb after the baseline file."`
	}
	Metrics struct {
		PushGatewayURL cli.URL      `help:"URL of a Prometheus pushgateway to send metrics to. Metrics are off if this isn't set."`
		PushFrequency  cli.Duration `help:"How often to push metrics."`
		PushTimeout    cli.Duration `help:"Timeout on pushing metrics."`
	}
}

// DefaultConfiguration returns the default configuration, before any files are read.
func DefaultConfiguration() *Configuration {
	config := &Configuration{}
	config.Project.Name = DefaultProjectName
	config.Project.Manifest = "composer.json"
	config.Docker.ComposeCommand = "docker-compose"
	config.Docker.Service = "php"
	config.Psalm.PHP = "php"
	config.Psalm.Binary = "vendor/bin/psalm"
	config.Psalm.MaxStderr = 1 * cli.MiByte
	config.Baseline.Enabled = true
	config.Baseline.Binary = "vendor/bin/sarb"
	config.Baseline.File = "psalm.baseline"
	config.Metrics.PushFrequency = cli.Duration(400 * time.Millisecond)
	config.Metrics.PushTimeout = cli.Duration(500 * time.Millisecond)
	return config
}

// DefaultConfigFiles returns the config files that are read before anything given on the command line.
func DefaultConfigFiles() []string {
	return []string{MachineConfigFileName, fs.ExpandHomePath(UserConfigFileName)}
}

// ProjectConfigFile returns the config file for a workspace root.
func ProjectConfigFile(root string) string {
	return filepath.Join(root, ConfigFileName)
}

func readConfigFile(config *Configuration, filename string) error {
	if err := gcfg.ReadFileInto(config, filename); err != nil && os.IsNotExist(err) {
		return nil // It's not an error to not have the file at all.
	} else if err != nil {
		return err
	}
	log.Debug("Read config from %s", filename)
	return nil
}

// ReadConfigFiles reads config files from the given locations, in order.
// Values are filled in by defaults initially and then overridden by each file in turn.
func ReadConfigFiles(filenames []string) (*Configuration, error) {
	config := DefaultConfiguration()
	for _, filename := range filenames {
		if err := readConfigFile(config, filename); err != nil {
			return config, err
		}
	}
	// Set default values for slices. These add rather than overwriting so we can't set
	// them upfront as we would with other config values.
	setDefault(&config.Project.Extension, []string{".php"})
	setDefault(&config.Docker.ExecFlag, []string{"-T"})
	setDefault(&config.Psalm.PHPIni, []string{"xdebug.start_with_request=no"})
	setDefault(&config.Psalm.Flag, []string{"--no-cache", "--no-progress", "--report-show-info=false", "--output-format=json"})
	setDefault(&config.Baseline.PHPIni, []string{"memory_limit=-1"})
	setDefault(&config.Baseline.Flag, []string{"--output-format=json"})
	// A blank extension is the only way to empty the list, since empty lists get the default.
	config.Project.Extension = withoutBlanks(config.Project.Extension)
	return config, config.Validate()
}

// setDefault sets a slice of strings in the config if the set one is empty.
func setDefault(conf *[]string, def []string) {
	if len(*conf) == 0 {
		*conf = def
	}
}

// withoutBlanks returns the given slice minus any empty strings.
func withoutBlanks(s []string) []string {
	ret := s[:0:0]
	for _, x := range s {
		if x != "" {
			ret = append(ret, x)
		}
	}
	return ret
}

// Validate checks the config for anything that can't work.
func (config *Configuration) Validate() error {
	if config.Project.Name == "" {
		return fmt.Errorf("project.name must be set")
	} else if config.Docker.Service == "" {
		return fmt.Errorf("docker.service must be set")
	} else if config.Psalm.Binary == "" || config.Psalm.PHP == "" {
		return fmt.Errorf("psalm.binary and psalm.php must be set")
	} else if config.Baseline.Enabled && (config.Baseline.Binary == "" || config.Baseline.File == "") {
		return fmt.Errorf("baseline.binary and baseline.file must be set when the baseline is enabled")
	} else if config.Psalm.Timeout < 0 {
		return fmt.Errorf("psalm.timeout can't be negative")
	}
	_, err := config.ComposeCommand()
	return err
}

// ComposeCommand returns the command to invoke docker compose, split into its arguments.
func (config *Configuration) ComposeCommand() ([]string, error) {
	argv, err := shlex.Split(config.Docker.ComposeCommand)
	if err != nil {
		return nil, fmt.Errorf("invalid docker.composecommand %q: %w", config.Docker.ComposeCommand, err)
	} else if len(argv) == 0 {
		return nil, fmt.Errorf("docker.composecommand must be set")
	}
	return argv, nil
}
