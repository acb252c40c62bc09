package lint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/psalm-langserver/src/core"
)

func defaultConfig(t *testing.T) *core.Configuration {
	config, err := core.ReadConfigFiles(nil)
	require.NoError(t, err)
	return config
}

func TestCommand(t *testing.T) {
	stages, err := Command(defaultConfig(t), "src/Plot/PlotService.php")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{
			"docker-compose", "exec", "-T", "php",
			"php", "-d", "xdebug.start_with_request=no", "vendor/bin/psalm",
			"--no-cache", "--no-progress", "--report-show-info=false", "--output-format=json",
			"src/Plot/PlotService.php",
		},
		{
			"docker-compose", "exec", "-T", "php",
			"php", "-d", "memory_limit=-1", "vendor/bin/sarb", "remove", "psalm.baseline",
			"--output-format=json",
		},
	}, stages)
}

func TestCommandWithoutBaseline(t *testing.T) {
	config := defaultConfig(t)
	config.Baseline.Enabled = false
	stages, err := Command(config, "src/Plot/PlotService.php")
	require.NoError(t, err)
	assert.Equal(t, 1, len(stages))
	assert.Equal(t, "vendor/bin/psalm", stages[0][7])
}

func TestCommandComposePlugin(t *testing.T) {
	config := defaultConfig(t)
	config.Docker.ComposeCommand = "docker compose -f 'docker/compose file.yml'"
	config.Docker.Service = "app"
	stages, err := Command(config, "index.php")
	require.NoError(t, err)
	assert.Equal(t, []string{"docker", "compose", "-f", "docker/compose file.yml", "exec", "-T", "app"}, stages[0][:7])
	assert.Equal(t, []string{"docker", "compose", "-f", "docker/compose file.yml", "exec", "-T", "app"}, stages[1][:7])
	assert.Equal(t, "index.php", stages[0][len(stages[0])-1])
}

func TestCommandSpacesInPath(t *testing.T) {
	stages, err := Command(defaultConfig(t), "src/My Stuff/Thing.php")
	require.NoError(t, err)
	assert.Equal(t, "src/My Stuff/Thing.php", stages[0][len(stages[0])-1])
}

func TestCommandInvalidCompose(t *testing.T) {
	config := defaultConfig(t)
	config.Docker.ComposeCommand = ""
	_, err := Command(config, "index.php")
	assert.Error(t, err)
}
