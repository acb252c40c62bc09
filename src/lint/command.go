package lint

import (
	"github.com/thought-machine/psalm-langserver/src/core"
)

// Command returns the stages of the pipeline that lints a single file.
// The path is relative to the project root, which is where the pipeline runs.
func Command(config *core.Configuration, path string) ([][]string, error) {
	compose, err := config.ComposeCommand()
	if err != nil {
		return nil, err
	}
	psalm := execIn(config, compose)
	psalm = append(psalm, config.Psalm.PHP)
	psalm = append(psalm, iniFlags(config.Psalm.PHPIni)...)
	psalm = append(psalm, config.Psalm.Binary)
	psalm = append(psalm, config.Psalm.Flag...)
	psalm = append(psalm, path)
	if !config.Baseline.Enabled {
		return [][]string{psalm}, nil
	}
	sarb := execIn(config, compose)
	sarb = append(sarb, config.Psalm.PHP)
	sarb = append(sarb, iniFlags(config.Baseline.PHPIni)...)
	sarb = append(sarb, config.Baseline.Binary, "remove", config.Baseline.File)
	sarb = append(sarb, config.Baseline.Flag...)
	return [][]string{psalm, sarb}, nil
}

// execIn returns the prefix of a command that runs inside the compose service.
func execIn(config *core.Configuration, compose []string) []string {
	argv := make([]string, 0, len(compose)+len(config.Docker.ExecFlag)+2)
	argv = append(argv, compose...)
	argv = append(argv, "exec")
	argv = append(argv, config.Docker.ExecFlag...)
	return append(argv, config.Docker.Service)
}

func iniFlags(settings []string) []string {
	ret := make([]string, 0, 2*len(settings))
	for _, s := range settings {
		ret = append(ret, "-d", s)
	}
	return ret
}
