// Command lightspeed serves the Ansible Lightspeed assistant API and hosts
// the offline index builder and answer scorer.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args, out)
	case "index":
		return runIndex(args, out)
	case "score":
		return runScore(args, out)
	case "help":
		printHelp(out)
		return 0
	default:
		fmt.Fprintf(out, "unknown command %q\n\n", cmd) //nolint:errcheck
		printHelp(out)
		return 2
	}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath  *string
	showVersion *bool
	showHelp    *bool
}

func newFlagSet(name string) (*pflag.FlagSet, commonFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs, commonFlags{
		configPath:  fs.StringP("config", "c", config.Path(), "Path to the YAML configuration file"),
		showVersion: fs.Bool("version", false, "Show version information"),
		showHelp:    fs.BoolP("help", "h", false, "Show help"),
	}
}

// parseFlags parses args; done reports that the command must exit with code.
func parseFlags(fs *pflag.FlagSet, c commonFlags, args []string, out io.Writer) (code int, done bool) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(out, "%s: %v\n", fs.Name(), err) //nolint:errcheck
		return 2, true
	}
	if *c.showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0, true
	}
	if *c.showHelp {
		printHelp(out)
		fmt.Fprintf(out, "\nFlags for %s:\n%s", fs.Name(), fs.FlagUsages()) //nolint:errcheck
		return 0, true
	}
	return 0, false
}

func printHelp(out io.Writer) {
	helpText := `Ansible Lightspeed - intelligent assistant service

Usage:
  lightspeed [command] [options]

Commands:
  serve        Start the HTTP server (default)
  index        Build the documentation index from a directory of markdown files
  score        Score answers against reference answers with a judge model

Options:
  -c, --config   Path to the configuration file (env LIGHTSPEED_CONFIG_FILE)
  --version      Show version information
  -h, --help     Show this help message

Examples:
  lightspeed --version
  lightspeed serve --config /etc/lightspeed/config.yaml
  lightspeed index --docs ./docs --docs-base-url https://docs.example.com/
  lightspeed score --cases eval/cases.yaml --output results.json`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
