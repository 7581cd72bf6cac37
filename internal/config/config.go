// Package config handles command-line argument parsing and builds the
// object graph the commands run against.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"

	"github.com/joe/remotefs/pkg/filesystem"
)

// Command names, as typed on the command line.
const (
	CommandCopy    = "cp"
	CommandCount   = "count"
	CommandList    = "ls"
	CommandMove    = "mv"
	CommandRemove  = "rm"
	CommandRename  = "rename"
	CommandRestore = "restore"
	CommandScan    = "scan"
	CommandShares  = "shares"
	CommandTest    = "test"
)

// Validation errors.
var (
	ErrNoCommand   = errors.New("a command is required")
	ErrTooFewPaths = errors.New("at least one source and a destination are required")
	ErrSizeRange   = errors.New("--min-size is larger than --max-size")
	ErrBadName     = errors.New("new name must be a bare file name")
)

// LogLevel is a logrus level name. The zero value means warn.
type LogLevel string

// Level returns the logrus level.
func (l LogLevel) Level() logrus.Level {
	level, err := logrus.ParseLevel(string(l))
	if err != nil {
		return logrus.WarnLevel
	}

	return level
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg
func (l *LogLevel) UnmarshalText(text []byte) error {
	_, err := logrus.ParseLevel(string(text))
	if err != nil {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", text)
	}

	*l = LogLevel(strings.ToLower(string(text)))

	return nil
}

// FilterArgs are the selection flags shared by ls, scan and count.
type FilterArgs struct {
	Pattern    string   `arg:"--pattern" help:"case-insensitive glob matched against the path below the root"`
	Extensions []string `arg:"--ext,separate" help:"accepted file extension (repeatable)"`
	MinSize    int64    `arg:"--min-size" help:"smallest file size in bytes"`
	MaxSize    int64    `arg:"--max-size" help:"largest file size in bytes"`
	Dirs       bool     `arg:"--dirs" help:"include directories"`
}

// Filter converts the flags into a filesystem.Filter.
func (f FilterArgs) Filter() filesystem.Filter {
	return filesystem.Filter{
		Pattern:     f.Pattern,
		Extensions:  f.Extensions,
		MinSize:     f.MinSize,
		MaxSize:     f.MaxSize,
		IncludeDirs: f.Dirs,
	}
}

// BrowseCmd is ls, scan or count.
type BrowseCmd struct {
	FilterArgs

	Path string             `arg:"positional,required" help:"directory, local path or URI"`
	Ref  filesystem.FileRef `arg:"-"`
}

// TransferCmd is cp or mv. The last path is the destination directory.
type TransferCmd struct {
	Paths []string `arg:"positional,required" help:"source files followed by the destination directory"`

	Sources     []filesystem.FileRef `arg:"-"`
	Destination filesystem.FileRef   `arg:"-"`
}

// RenameCmd renames one file in place.
type RenameCmd struct {
	Path string `arg:"positional,required" help:"file to rename"`
	Name string `arg:"positional,required" help:"new file name"`

	Ref filesystem.FileRef `arg:"-"`
}

// RemoveCmd deletes files, optionally into a trash directory.
type RemoveCmd struct {
	Soft  bool     `arg:"--soft" help:"move into a trash directory so the deletion can be undone"`
	Paths []string `arg:"positional,required" help:"files or directories to delete"`

	Refs []filesystem.FileRef `arg:"-"`
}

// RestoreCmd undoes a soft delete.
type RestoreCmd struct {
	Trash     string   `arg:"--trash,required" help:"trash directory printed by rm --soft"`
	Originals []string `arg:"positional,required" help:"original paths of the deleted files"`

	TrashRef filesystem.FileRef   `arg:"-"`
	Refs     []filesystem.FileRef `arg:"-"`
}

// TestCmd checks that an endpoint is reachable.
type TestCmd struct {
	Path string `arg:"positional,required" help:"local path or URI"`

	Ref filesystem.FileRef `arg:"-"`
}

// SharesCmd lists the well-known shares of an SMB host.
type SharesCmd struct {
	Host string `arg:"positional,required" help:"SMB host, optionally host:port"`
}

// Config holds the application configuration
type Config struct {
	List    *BrowseCmd   `arg:"subcommand:ls" help:"list a directory"`
	Scan    *BrowseCmd   `arg:"subcommand:scan" help:"list every file below a directory"`
	Count   *BrowseCmd   `arg:"subcommand:count" help:"count the files below a directory"`
	Copy    *TransferCmd `arg:"subcommand:cp" help:"copy files into a directory"`
	Move    *TransferCmd `arg:"subcommand:mv" help:"move files into a directory"`
	Rename  *RenameCmd   `arg:"subcommand:rename" help:"rename a file"`
	Remove  *RemoveCmd   `arg:"subcommand:rm" help:"delete files"`
	Restore *RestoreCmd  `arg:"subcommand:restore" help:"restore files deleted with rm --soft"`
	Test    *TestCmd     `arg:"subcommand:test" help:"test the connection to an endpoint"`
	Shares  *SharesCmd   `arg:"subcommand:shares" help:"list the shares of an SMB host"`

	Credentials     string        `arg:"--credentials,env:REMOTEFS_CREDENTIALS" help:"YAML credentials file"`
	User            string        `arg:"--user,env:REMOTEFS_USER" help:"username used when no credentials entry matches"`
	Password        string        `arg:"--password,env:REMOTEFS_PASSWORD" help:"password for --user (prefer the environment variable)"`
	KnownHosts      string        `arg:"--known-hosts" help:"OpenSSH known_hosts file used to verify SFTP servers"`
	KeyDir          string        `arg:"--key-dir" help:"directory holding SSH private keys (default ~/.ssh)"`
	Timeout         time.Duration `arg:"--timeout" default:"30s" help:"timeout of one remote metadata call"`
	TransferTimeout time.Duration `arg:"--transfer-timeout" default:"10m" help:"timeout of one file transfer"`
	LogLevel        LogLevel      `arg:"--log-level" default:"warn" help:"debug|info|warn|error"`
	MetricsAddr     string        `arg:"--metrics-addr" help:"serve Prometheus metrics on this address while the command runs"`
	Overwrite       bool          `arg:"--overwrite" help:"replace existing files on cp and mv"`
}

// Description returns the program description for go-arg
func (Config) Description() string {
	return "Browse, copy, move, rename and delete files across local disks, SMB, SFTP and FTP"
}

// Version returns the version string for go-arg
func (Config) Version() string {
	return "remotefs 1.0.0"
}

// Command returns the name of the selected subcommand, or "" if none is.
func (cfg *Config) Command() string {
	switch {
	case cfg.List != nil:
		return CommandList
	case cfg.Scan != nil:
		return CommandScan
	case cfg.Count != nil:
		return CommandCount
	case cfg.Copy != nil:
		return CommandCopy
	case cfg.Move != nil:
		return CommandMove
	case cfg.Rename != nil:
		return CommandRename
	case cfg.Remove != nil:
		return CommandRemove
	case cfg.Restore != nil:
		return CommandRestore
	case cfg.Test != nil:
		return CommandTest
	case cfg.Shares != nil:
		return CommandShares
	default:
		return ""
	}
}

// Timeouts returns the remote call timeouts the flags ask for. Zero values
// keep the client defaults.
func (cfg *Config) Timeouts() filesystem.Timeouts {
	return filesystem.Timeouts{Op: cfg.Timeout, Transfer: cfg.TransferTimeout}
}

// ParseFlags parses command-line flags and returns configuration. Usage
// errors print help and exit.
func ParseFlags() (*Config, error) {
	cfg := &Config{}

	parser := arg.MustParse(cfg)
	if cfg.Command() == "" {
		parser.Fail(ErrNoCommand.Error())
	}

	return PostProcessConfig(cfg)
}

// Parse parses args (without the program name) and returns configuration.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}

	parser, err := arg.NewParser(arg.Config{Program: "remotefs"}, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build argument parser: %w", err)
	}

	err = parser.Parse(args)
	if err != nil {
		return nil, err //nolint:wrapcheck // arg.ErrHelp and arg.ErrVersion must stay comparable
	}

	return PostProcessConfig(cfg)
}

// PostProcessConfig validates a parsed config and resolves its paths.
func PostProcessConfig(cfg *Config) (*Config, error) {
	if cfg.Command() == "" {
		return nil, ErrNoCommand
	}

	err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) resolve() error {
	var err error

	switch {
	case cfg.List != nil:
		err = cfg.List.resolve()
	case cfg.Scan != nil:
		err = cfg.Scan.resolve()
	case cfg.Count != nil:
		err = cfg.Count.resolve()
	case cfg.Copy != nil:
		err = cfg.Copy.resolve()
	case cfg.Move != nil:
		err = cfg.Move.resolve()
	case cfg.Rename != nil:
		err = cfg.Rename.resolve()
	case cfg.Remove != nil:
		cfg.Remove.Refs, err = parseRefs(cfg.Remove.Paths)
	case cfg.Restore != nil:
		err = cfg.Restore.resolve()
	case cfg.Test != nil:
		cfg.Test.Ref, err = parseRef(cfg.Test.Path)
	}

	return err
}

func (c *BrowseCmd) resolve() error {
	if c.MinSize > 0 && c.MaxSize > 0 && c.MinSize > c.MaxSize {
		return ErrSizeRange
	}

	err := c.Filter().Validate()
	if err != nil {
		return fmt.Errorf("invalid --pattern %q: %w", c.Pattern, err)
	}

	c.Ref, err = parseRef(c.Path)

	return err
}

func (c *TransferCmd) resolve() error {
	if len(c.Paths) < 2 { //nolint:mnd // one source plus the destination
		return ErrTooFewPaths
	}

	refs, err := parseRefs(c.Paths)
	if err != nil {
		return err
	}

	c.Sources, c.Destination = refs[:len(refs)-1], refs[len(refs)-1]

	return nil
}

func (c *RenameCmd) resolve() error {
	if c.Name == "" || c.Name == "." || c.Name == ".." || strings.ContainsAny(c.Name, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadName, c.Name)
	}

	var err error

	c.Ref, err = parseRef(c.Path)

	return err
}

func (c *RestoreCmd) resolve() error {
	var err error

	c.TrashRef, err = parseRef(c.Trash)
	if err != nil {
		return err
	}

	c.Refs, err = parseRefs(c.Originals)

	return err
}

func parseRef(s string) (filesystem.FileRef, error) {
	ref, err := filesystem.ParseRef(s)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	return ref, nil
}

func parseRefs(paths []string) ([]filesystem.FileRef, error) {
	refs := make([]filesystem.FileRef, 0, len(paths))

	for _, p := range paths {
		ref, err := parseRef(p)
		if err != nil {
			return nil, err
		}

		refs = append(refs, ref)
	}

	return refs, nil
}
