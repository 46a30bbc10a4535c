// Package cli provides the crlite-mlbf command line front end: flag
// parsing, config layering, logger setup, and exit codes.
package cli

import (
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"crlite/internal/build"
)

// Run is the main entry point. Returns exit code.
func Run(out, errOut io.Writer, args []string) int {
	defaults := build.DefaultConfig()

	flags := flag.NewFlagSet("crlite-mlbf", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	previd := flags.String("previd", "", "Previous build identifier to reuse structure from and diff against")
	certPath := flags.String("cert-path", defaults.CertPath, "Directory containing per-build certificate data")
	outDirName := flags.String("out-dir-name", defaults.OutDirName, "Output directory name under <cert-path>/<id>")
	knownPath := flags.String("known-path", "", "Override for the known-serials directory")
	revokedPath := flags.String("revoked-path", "", "Override for the revoked-serials directory")
	capacity := flags.Float64("capacity", defaults.Capacity, "Filter capacity multiplier")
	excludeAKI := flags.StringSlice("exclude-aki", nil, "Issuer identifiers to exclude (repeatable)")
	cacheKeys := flags.Bool("cache-keys", false, "Save key lists to files, or load them if both exist")
	noVerify := flags.Bool("no-verify", false, "Skip filter verification")
	configPath := flags.String("config", "", "Config file path (default "+build.ConfigFileName+" in the working directory)")
	verbose := flags.BoolP("verbose", "v", false, "Enable debug logging")
	help := flags.BoolP("help", "h", false, "Show help")

	err := flags.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, flags)

		return 1
	}

	if *help {
		printUsage(out, flags)

		return 0
	}

	rest := flags.Args()
	if len(rest) != 1 {
		fprintln(errOut, "error: exactly one build identifier is required")
		printUsage(errOut, flags)

		return 1
	}

	workDir, err := os.Getwd()
	if err != nil {
		fprintln(errOut, "error: cannot get working directory:", err)

		return 1
	}

	cfg, _, err := build.LoadConfig(workDir, *configPath)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	// Flags override file values; only flags the user actually set count,
	// so config-file values survive untouched defaults.
	if flags.Changed("cert-path") {
		cfg.CertPath = *certPath
	}

	if flags.Changed("out-dir-name") {
		cfg.OutDirName = *outDirName
	}

	if flags.Changed("known-path") {
		cfg.KnownPath = *knownPath
	}

	if flags.Changed("revoked-path") {
		cfg.RevokedPath = *revokedPath
	}

	if flags.Changed("capacity") {
		cfg.Capacity = *capacity
	}

	if flags.Changed("exclude-aki") {
		cfg.ExcludeAKI = *excludeAKI
	}

	cfg.ID = rest[0]
	cfg.PrevID = *previd
	cfg.CacheKeys = *cacheKeys
	cfg.NoVerify = *noVerify

	err = cfg.Validate()
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	log := newLogger(errOut, *verbose)
	defer func() { _ = log.Sync() }()

	err = build.Run(cfg, log)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	return 0
}

// newLogger builds a console logger writing to errOut so stdout stays free
// for machine-readable output.
func newLogger(errOut io.Writer, verbose bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(errOut), level)

	return zap.New(core).Sugar()
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fprintln(w, "Usage: crlite-mlbf [flags] <ID>")
	fprintln(w)
	fprintln(w, "Reconciles per-issuer known/revoked certificate records under")
	fprintln(w, "<cert-path>/<ID> into a multi-level bloom filter artifact, with")
	fprintln(w, "optional structural reuse of and binary diffing against a previous")
	fprintln(w, "build. Writes filter, filter.meta, optional patch and key caches,")
	fprintln(w, "and always a final stats.json.")
	fprintln(w)
	fprintln(w, "Flags:")
	fmt.Fprint(w, flags.FlagUsages())
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
