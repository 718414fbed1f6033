package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Version and BuildDate are populated at build time via -ldflags.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// configSearchPath returns the directories searched for an INI file, in
// order: an explicit GRIDSYNC_CONFIG_DIR, the working directory, and the
// user's config directory.
func configSearchPath() []string {
	var path []string
	if dir := os.Getenv("GRIDSYNC_CONFIG_DIR"); dir != "" {
		path = append(path, dir)
	}
	path = append(path, ".")
	if dir, err := os.UserConfigDir(); err == nil {
		path = append(path, filepath.Join(dir, "gridsync"))
	}
	return path
}

// MustParseConfig parses the combination of an optional INI file named
// |configName|, environment bindings, and explicit flags into |parser|'s
// configuration object, exiting on failure. The first INI file found along
// the config search path wins.
func MustParseConfig(parser *flags.Parser, configName string) {
	// INI files may carry sections for other tooling; don't fail on them.
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown

	var iniParser = flags.NewIniParser(parser)
	for _, dir := range configSearchPath() {
		var err = iniParser.ParseFile(filepath.Join(dir, configName))
		if err == nil {
			break
		} else if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	parser.Options = origOptions
	MustParseArgs(parser)
}

// MustParseArgs parses process arguments into |parser|'s configuration
// object, exiting on failure.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	flagErr, ok := err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		// The configuration object itself is malformed; that's a programming
		// error, not an input error.
		panic(err)

	case flags.ErrCommandRequired, flags.ErrHelp:
		if flagErr.Type == flags.ErrCommandRequired || parser.Options&flags.PrintErrors == 0 {
			parser.WriteHelp(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
		os.Exit(1)

	default:
		// go-flags already printed a message describing the input problem.
		os.Exit(1)
	}
}

// AddPrintConfigCmd adds a "print-config" command to the Parser, which
// exports the combined runtime configuration in INI format. It helps users
// verify how flags, environment, and the INI file compose.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	_, _ = parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
`, &printConfig{parser})
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	var ini = flags.NewIniParser(p.Parser)
	ini.Write(os.Stdout, flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
