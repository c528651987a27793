package main

import (
	"flag"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

func (prog *program) parseArgs(cliArgs []string) error {
	var (
		yamlFile string
		yamlOpts programOptions
	)

	prog.flags = flag.NewFlagSet("sfctd", flag.ExitOnError)
	prog.flags.SetOutput(prog.stderr)
	prog.flags.Usage = func() {
		fmt.Fprintf(prog.stderr, "usage: %q [--script=PATH] [--config=PATH] [--log-level=debug|info|warn|error] [--json] [--benchmark-only]\n\n", cliArgs[0])
		prog.flags.PrintDefaults()
	}

	prog.flags.StringVar(&prog.opts.ScriptPath, "script", defaultScriptPath, "path to the job script describing what to copy, fast_copy, monitor, or benchmark")
	prog.flags.StringVar(&yamlFile, "config", "", "path to a yaml configuration file overlaying the same flags")
	prog.flags.StringVar(&prog.opts.LogLevel, "log-level", "info", "decides the verbosity of emitted logs; debug, info, warn, error")
	prog.flags.BoolVar(&prog.opts.JSON, "json", false, "output console logs in the JSON format on stderr; the Applog.txt file format is unchanged")
	prog.flags.BoolVar(&prog.opts.BenchmarkOnly, "benchmark-only", false, "run only the benchmark jobs in the script, skipping copy/fast_copy/monitor jobs")

	if err := prog.flags.Parse(cliArgs[1:]); err != nil {
		return fmt.Errorf("failed parsing flags: %w", err)
	}

	setFlags := make(map[string]bool)
	prog.flags.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	if yamlFile != "" {
		f, err := prog.fsys.Open(yamlFile)
		if err != nil {
			return fmt.Errorf("%w: %w", errArgConfigMissing, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)

		if err := dec.Decode(&yamlOpts); err != nil {
			return fmt.Errorf("%w: %w", errArgConfigMalformed, err)
		}
	}

	if !setFlags["script"] && yamlOpts.ScriptPath != "" {
		prog.opts.ScriptPath = yamlOpts.ScriptPath
	}
	if !setFlags["log-level"] && yamlOpts.LogLevel != "" {
		prog.opts.LogLevel = yamlOpts.LogLevel
	}
	if !setFlags["json"] {
		prog.opts.JSON = yamlOpts.JSON
	}
	if !setFlags["benchmark-only"] {
		prog.opts.BenchmarkOnly = yamlOpts.BenchmarkOnly
	}

	return nil
}

func (prog *program) validateOpts() error {
	prog.opts.ScriptPath = strings.TrimSpace(prog.opts.ScriptPath)
	if prog.opts.ScriptPath == "" {
		return errArgScriptMissing
	}

	if prog.opts.LogLevel != "" {
		if _, err := parseLogLevel(prog.opts.LogLevel); err != nil {
			return fmt.Errorf("%w: %q", err, prog.opts.LogLevel)
		}
	} else {
		prog.opts.LogLevel = strings.ToLower(defaultLogLevel.String())
	}

	return nil
}

func (prog *program) printOpts() error {
	out, err := yaml.Marshal(prog.opts)
	if err != nil {
		return fmt.Errorf("failed printing configuration: %w", err)
	}

	fmt.Fprintln(prog.stdout, "configuration:")

	lines := strings.SplitSeq(string(out), "\n")
	for line := range lines {
		if line != "" {
			fmt.Fprintf(prog.stdout, "\t%s\n", line)
		}
	}

	fmt.Fprintln(prog.stdout)

	return nil
}
