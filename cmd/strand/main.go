// Copyright 2026 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command strand runs the agent server.
//
// Usage:
//
//	strand serve --config config.yaml
//	strand validate --config config.yaml
//	strand version
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	strand "github.com/strandai/strand"
	"github.com/strandai/strand/pkg/config"
	"github.com/strandai/strand/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the agent server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("strand version %s\n", strand.Version)
	return nil
}

// ValidateCmd checks a configuration file and lists its agents.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("  server:   %s\n", cfg.Server.Address())
	fmt.Printf("  provider: %s (%s)\n", cfg.Provider.Type, cfg.Provider.Model)
	fmt.Println("  agents:")
	for _, a := range cfg.Agents {
		line := "    - " + a.ID
		if len(a.SubAgents) > 0 {
			line += fmt.Sprintf(" (delegates to %v)", a.SubAgents)
		}
		fmt.Println(line)
	}
	return nil
}

// loadConfig reads the config file, or falls back to defaults when no
// path is given. CLI logging flags override the file.
func loadConfig(cli *CLI) (*config.Config, error) {
	var cfg *config.Config
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	if cli.LogFile != "" {
		cfg.Logging.File = cli.LogFile
	}
	return cfg, nil
}

// initLogging configures the global logger from the resolved config
// and returns a cleanup for the log file, if any.
func initLogging(cfg *config.Config) (func(), error) {
	output := os.Stderr
	cleanup := func() {}
	if cfg.Logging.File != "" {
		file, closeFile, err := logger.OpenLogFile(cfg.Logging.File)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
		cleanup = closeFile
	}
	logger.Init(logger.ParseLevel(cfg.Logging.Level), output, cfg.Logging.Format)
	return cleanup, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("strand"),
		kong.Description("strand - streaming LLM agent server"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
