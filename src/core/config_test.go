package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/psalm-langserver/src/fs"
)

func TestDefaultConfiguration(t *testing.T) {
	config, err := ReadConfigFiles(nil)
	require.NoError(t, err)
	assert.Equal(t, "plotbox-io/plotbox-app", config.Project.Name)
	assert.Equal(t, "composer.json", config.Project.Manifest)
	assert.Equal(t, []string{".php"}, config.Project.Extension)
	assert.Equal(t, "php", config.Docker.Service)
	assert.Equal(t, []string{"-T"}, config.Docker.ExecFlag)
	assert.Equal(t, []string{"xdebug.start_with_request=no"}, config.Psalm.PHPIni)
	assert.Equal(t, []string{"--no-cache", "--no-progress", "--report-show-info=false", "--output-format=json"}, config.Psalm.Flag)
	assert.EqualValues(t, 0, config.Psalm.Timeout)
	assert.True(t, config.Baseline.Enabled)
	assert.Equal(t, []string{"memory_limit=-1"}, config.Baseline.PHPIni)
	assert.Equal(t, "psalm.baseline", config.Baseline.File)
	assert.Equal(t, []string{"--output-format=json"}, config.Baseline.Flag)
	assert.EqualValues(t, "", config.Metrics.PushGatewayURL)
}

func TestReadConfigFile(t *testing.T) {
	config, err := ReadConfigFiles([]string{"test_data/psalmlsconfig.test"})
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", config.Project.Name)
	assert.Equal(t, []string{".php", ".phtml"}, config.Project.Extension)
	assert.Equal(t, "app", config.Docker.Service)
	assert.EqualValues(t, 90*time.Second, config.Psalm.Timeout)
	assert.EqualValues(t, 64000, config.Psalm.MaxStderr)
	assert.Equal(t, []string{"memory_limit=2G"}, config.Psalm.PHPIni)
	assert.False(t, config.Baseline.Enabled)
	assert.EqualValues(t, "http://localhost:9091", config.Metrics.PushGatewayURL)
	// Things that weren't set keep their defaults.
	assert.Equal(t, "vendor/bin/psalm", config.Psalm.Binary)

	argv, err := config.ComposeCommand()
	assert.NoError(t, err)
	assert.Equal(t, []string{"docker", "compose", "--project-directory", "/srv/app"}, argv)
}

func TestBlankExtensionLintsEverything(t *testing.T) {
	config, err := ReadConfigFiles([]string{"test_data/all_extensions.test"})
	require.NoError(t, err)
	assert.Empty(t, config.Project.Extension)
	assert.True(t, fs.HasExtension("/app/src/Foo.php", config.Project.Extension))
	assert.True(t, fs.HasExtension("/app/templates/invoice.twig", config.Project.Extension))
}

func TestMissingConfigFile(t *testing.T) {
	config, err := ReadConfigFiles([]string{"test_data/does_not_exist", ProjectConfigFile(t.TempDir())})
	require.NoError(t, err)
	assert.Equal(t, DefaultProjectName, config.Project.Name)
}

func TestInvalidComposeCommand(t *testing.T) {
	_, err := ReadConfigFiles([]string{"test_data/bad_compose.test"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	config := DefaultConfiguration()
	assert.NoError(t, config.Validate())
	config.Docker.Service = ""
	assert.Error(t, config.Validate())

	config = DefaultConfiguration()
	config.Baseline.File = ""
	assert.Error(t, config.Validate())
	config.Baseline.Enabled = false
	assert.NoError(t, config.Validate())

	config.Docker.ComposeCommand = "   "
	assert.Error(t, config.Validate())
}

func TestDefaultConfigFiles(t *testing.T) {
	t.Setenv("HOME", "/home/psalm")
	assert.Equal(t, []string{"/etc/psalmlsconfig", "/home/psalm/.config/psalmls/config"}, DefaultConfigFiles())
	assert.Equal(t, "/srv/app/.psalmlsconfig", ProjectConfigFile("/srv/app"))
}
