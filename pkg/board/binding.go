package board

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ajitpratap0/dynboard/pkg/dynlib"
	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

// SymbolSet names the vendor entry points. An empty Close or Configure means
// the vendor does not export that entry point; every other role is required.
type SymbolSet struct {
	Initialize string
	Open       string
	Close      string
	Start      string
	Stop       string
	Release    string
	Configure  string
	Read       string
}

// DefaultSymbols returns the export names used by most vendor wrappers
func DefaultSymbols() SymbolSet {
	return SymbolSet{
		Initialize: "initialize",
		Open:       "open_device",
		Close:      "close_device",
		Start:      "start_stream",
		Stop:       "stop_stream",
		Release:    "release",
		Configure:  "config_device",
		Read:       "get_data",
	}
}

// WithOverrides returns a copy of s with the given role->symbol overrides applied.
// Roles are initialize, open, close, start, stop, release, configure and read.
func (s SymbolSet) WithOverrides(overrides map[string]string) SymbolSet {
	for role, name := range overrides {
		switch strings.ToLower(role) {
		case "initialize":
			s.Initialize = name
		case "open":
			s.Open = name
		case "close":
			s.Close = name
		case "start":
			s.Start = name
		case "stop":
			s.Stop = name
		case "release":
			s.Release = name
		case "configure":
			s.Configure = name
		case "read":
			s.Read = name
		}
	}
	return s
}

// InitializeHook replaces the default initialize call. It resolves the
// initialize export with whatever signature the vendor uses and returns a
// closure performing the call. The closure's result is the vendor status.
type InitializeHook func(lib dynlib.Library, symbol string, params models.InputParameters) (func() int32, error)

// Binding is the per-vendor policy consumed by the Adapter. Vendor
// differences are expressed here as data instead of adapter subtypes.
type Binding struct {
	// Name identifies the vendor/board type; singleton slots are keyed by it
	Name string
	// ChannelCount is the width of every sample emitted
	ChannelCount int
	// LibraryName returns the file name of the vendor library
	LibraryName func() string
	// LibraryDir is used when the adapter has no library directory configured
	LibraryDir string
	// AugmentSearchPath prepends the library directory to the OS search path
	// before loading, for vendor libraries with sibling dependencies. Only
	// effective where dynlib.RuntimeSearchPath is true.
	AugmentSearchPath bool
	// Symbols names the vendor entry points
	Symbols SymbolSet
	// Supported reports whether this platform can host the vendor library.
	// nil means every platform.
	Supported func() bool
	// Singleton restricts the process to one valid adapter for this vendor
	Singleton bool
	// FatalReadCodes end the acquisition loop; other failures are retried
	FatalReadCodes []int32
	// ConfirmOnFirstSample delays the start handshake until the first
	// successful read instead of confirming as soon as the loop starts
	ConfirmOnFirstSample bool
	// Initialize optionally replaces the default JSON-parameters initialize call
	Initialize InitializeHook
}

// Validate checks that the binding can drive an adapter
func (b *Binding) Validate() error {
	if b == nil {
		return errors.New(errors.ErrorTypeConfig, "binding is nil")
	}
	if b.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "binding name is required")
	}
	if b.ChannelCount <= 0 {
		return errors.New(errors.ErrorTypeConfig, "channel count must be positive").
			WithDetail("board", b.Name).
			WithDetail("channels", b.ChannelCount)
	}
	if b.LibraryName == nil {
		return errors.New(errors.ErrorTypeConfig, "library name is required").WithDetail("board", b.Name)
	}
	required := map[string]string{
		"initialize": b.Symbols.Initialize,
		"open":       b.Symbols.Open,
		"start":      b.Symbols.Start,
		"stop":       b.Symbols.Stop,
		"release":    b.Symbols.Release,
		"read":       b.Symbols.Read,
	}
	for role, name := range required {
		if name == "" {
			return errors.Newf(errors.ErrorTypeConfig, "symbol for %s is required", role).WithDetail("board", b.Name)
		}
	}
	return nil
}

// PlatformSupported evaluates the platform predicate
func (b *Binding) PlatformSupported() bool {
	if b.Supported == nil {
		return true
	}
	return b.Supported()
}

// LibraryPath resolves the library location. dir takes precedence over the
// binding's own LibraryDir; without either the bare name is returned so the
// OS search path applies.
func (b *Binding) LibraryPath(dir string) string {
	name := b.LibraryName()
	if dir == "" {
		dir = b.LibraryDir
	}
	if dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// RequiredSymbols lists every export resolved during prepare
func (b *Binding) RequiredSymbols() []string {
	all := []string{
		b.Symbols.Initialize,
		b.Symbols.Open,
		b.Symbols.Close,
		b.Symbols.Start,
		b.Symbols.Stop,
		b.Symbols.Release,
		b.Symbols.Configure,
		b.Symbols.Read,
	}
	out := make([]string, 0, len(all))
	for _, name := range all {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (b *Binding) isFatalRead(code int32) bool {
	for _, c := range b.FatalReadCodes {
		if c == code {
			return true
		}
	}
	return false
}

// OnlyOn returns a platform predicate accepting the listed GOOS values.
// An entry may also be "goos/goarch".
func OnlyOn(platforms ...string) func() bool {
	return func() bool {
		if len(platforms) == 0 {
			return true
		}
		for _, p := range platforms {
			goos, goarch, hasArch := strings.Cut(strings.ToLower(p), "/")
			if goos != runtime.GOOS {
				continue
			}
			if !hasArch || goarch == runtime.GOARCH {
				return true
			}
		}
		return false
	}
}
