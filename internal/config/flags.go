package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Flags holds command-line values that override the configuration file
type Flags struct {
	ConfigPath string

	Port     int
	Address  string
	Unicast  bool
	Timeout  int
	Num      int64
	Version  int64
	Severity uint64

	Format     string
	PV         string
	SchemaFile string
	SchemaURL  string
	Channels   string
	Events     string

	ShowData bool
	Quiet    bool
	Verbose  bool

	Report     bool
	Output     string
	MaxEntries int

	HTTPPort int
	LogLevel string
}

// NewFlagSet declares the decoder flags. Short options follow the classic
// bldDecode command line.
func NewFlagSet(name string) (*pflag.FlagSet, *Flags) {
	f := &Flags{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&f.ConfigPath, "config", "", "Path to configuration file")
	fs.IntVarP(&f.Port, "port", "p", 0, "The port to use (default: 50000)")
	fs.BoolVarP(&f.ShowData, "show-data", "d", false, "Display event data")
	fs.Int64VarP(&f.Version, "version", "k", -1, "Filter packets by this version")
	fs.Uint64VarP(&f.Severity, "severity", "s", 0, "Filter packets by this severity mask")
	fs.IntVarP(&f.Timeout, "timeout", "t", 0, "Timeout to receive packets, in seconds")
	fs.Int64VarP(&f.Num, "num", "n", 0, "Number of packets to receive before exiting")
	fs.StringVarP(&f.Format, "format", "f", "", "Data format (i.e. 'f,u,i,f' for float, uint32, int32, float)")
	fs.BoolVarP(&f.Unicast, "unicast", "u", false, "Receive packets as unicast too")
	fs.StringVarP(&f.Channels, "channels", "c", "", "Channels to display (i.e. '1,2,5' will display channels 1, 2 and 5)")
	fs.StringVarP(&f.Events, "events", "e", "", "Event indices to display (i.e. '0,1,3' will display events 0, 1 and 3)")
	fs.StringVarP(&f.PV, "pv", "b", "", "Name of the record that describes the BLD payload")
	fs.StringVar(&f.SchemaFile, "schema-file", "", "YAML/JSON file holding payload descriptions")
	fs.StringVar(&f.SchemaURL, "schema-url", "", "Base URL of the payload description service")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "Run in verbose mode, showing additional debugging info")
	fs.StringVarP(&f.Address, "address", "a", "", "Multicast address")
	fs.BoolVarP(&f.Report, "report", "r", false, "Run in report generation mode")
	fs.StringVarP(&f.Output, "output", "o", "", "File to place the generated report (.zst compresses)")
	fs.IntVar(&f.MaxEntries, "max-entries", 0, "Maximum number of invalid packets kept in the report")
	fs.BoolVarP(&f.Quiet, "quiet", "q", false, "Disable all non-critical logging")
	fs.IntVar(&f.HTTPPort, "http-port", 0, "Enable the HTTP status API on this port")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return fs, f
}

// ApplyFlags overrides configuration values with the flags set on fs
func (c *Config) ApplyFlags(fs *pflag.FlagSet, f *Flags) error {
	changed := fs.Changed

	if changed("port") {
		c.Receiver.Port = f.Port
	}
	if changed("address") {
		c.Receiver.Address = f.Address
	}
	if changed("unicast") {
		c.Receiver.Unicast = f.Unicast
	}
	if changed("timeout") {
		c.Receiver.IdleTimeout = f.Timeout
	}
	if changed("num") {
		c.Receiver.MaxPackets = f.Num
	}

	if changed("version") {
		c.Filter.Version = f.Version
	}
	if changed("severity") {
		sevr := f.Severity
		c.Filter.SeverityMask = &sevr
	}
	if changed("channels") {
		channels, err := ParseIndexList(f.Channels)
		if err != nil {
			return fmt.Errorf("invalid --channels: %w", err)
		}
		c.Filter.Channels = channels
	}
	if changed("events") {
		events, err := ParseIndexList(f.Events)
		if err != nil {
			return fmt.Errorf("invalid --events: %w", err)
		}
		c.Filter.Events = events
	}

	if changed("format") {
		c.Schema.Source = SchemaSourceNone
		c.Schema.Formats = f.Format
	}
	if changed("pv") {
		c.Schema.Name = f.PV
	}
	if changed("schema-file") {
		c.Schema.Source = SchemaSourceFile
		c.Schema.Path = f.SchemaFile
	}
	if changed("schema-url") {
		c.Schema.Source = SchemaSourceHTTP
		c.Schema.Endpoint = f.SchemaURL
	}

	if changed("show-data") {
		c.Display.ShowData = f.ShowData
	}
	if changed("quiet") {
		c.Display.Quiet = f.Quiet
	}
	if changed("verbose") {
		c.Display.Verbose = f.Verbose
	}

	if changed("report") {
		c.Report.Enabled = f.Report
	}
	if changed("output") {
		c.Report.Output = f.Output
	}
	if changed("max-entries") {
		c.Report.MaxEntries = f.MaxEntries
	}

	if changed("http-port") {
		c.HTTP.Enabled = true
		c.HTTP.Port = f.HTTPPort
	}
	if changed("log-level") {
		c.Logging.Level = f.LogLevel
	}

	return nil
}

// ParseIndexList parses a list such as "0, 3,5" into integers. Entries may be
// separated by commas or spaces.
func ParseIndexList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })

	out := make([]int, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", field)
		}
		out = append(out, v)
	}
	return out, nil
}
