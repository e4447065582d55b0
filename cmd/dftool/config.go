package main

import "github.com/vitalvas/pktfilter/xlogger"

const envPrefix = "DFTOOL"

// Config is the dftool configuration file. Every key can be overridden with
// a DFTOOL_ prefixed variable, e.g. DFTOOL_LOG_LEVEL or DFTOOL_WORKERS.
type Config struct {
	Registry string         `yaml:"registry"`
	Macros   string         `yaml:"macros"`
	Workers  int            `yaml:"workers"`
	Log      xlogger.Config `yaml:"log"`
	Compile  CompileConfig  `yaml:"compile"`
}

type CompileConfig struct {
	Optimize     bool `yaml:"optimize" default:"true"`
	ExpandMacros bool `yaml:"expand_macros" default:"true"`
}

// override copies the values set on the command line.
func (c *Config) override(flags Config) {
	if flags.Registry != "" {
		c.Registry = flags.Registry
	}
	if flags.Macros != "" {
		c.Macros = flags.Macros
	}
	if flags.Log.Level != "" {
		c.Log.Level = flags.Log.Level
	}
	if flags.Log.LogType != "" {
		c.Log.LogType = flags.Log.LogType
	}
	if flags.Log.File != "" {
		c.Log.File = flags.Log.File
	}
}
