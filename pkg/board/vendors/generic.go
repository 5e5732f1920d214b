package vendors

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/dynboard/pkg/board"
	"github.com/ajitpratap0/dynboard/pkg/board/registry"
	"github.com/ajitpratap0/dynboard/pkg/config"
	"github.com/ajitpratap0/dynboard/pkg/dynlib"
	"github.com/ajitpratap0/dynboard/pkg/logger"
)

// defaultFatalReadCodes end acquisition when a config-driven board declares none
var defaultFatalReadCodes = []int32{7}

// NewGenericBinding builds a binding entirely from a board declaration.
// Symbols not overridden keep their default names. library_dir is always the
// load directory; it is added to the search path only where
// dynlib.RuntimeSearchPath allows it.
func NewGenericBinding(cfg config.BoardConfig) (*board.Binding, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fatal := defaultFatalReadCodes
	if len(cfg.FatalReadCodes) > 0 {
		fatal = make([]int32, len(cfg.FatalReadCodes))
		for i, c := range cfg.FatalReadCodes {
			fatal[i] = int32(c)
		}
	}

	library := cfg.Library
	b := &board.Binding{
		Name:                 cfg.Name,
		ChannelCount:         cfg.Channels,
		LibraryName:          func() string { return library },
		LibraryDir:           cfg.LibraryDir,
		AugmentSearchPath:    cfg.LibraryDir != "" && dynlib.RuntimeSearchPath(),
		Symbols:              board.DefaultSymbols().WithOverrides(cfg.Symbols),
		Singleton:            cfg.Singleton,
		FatalReadCodes:       fatal,
		ConfirmOnFirstSample: cfg.ConfirmOnFirstSample,
	}
	if len(cfg.Platforms) > 0 {
		b.Supported = board.OnlyOn(cfg.Platforms...)
	}
	return b, b.Validate()
}

// RegisterConfigured registers every board declared in the configuration
// with r.
func RegisterConfigured(r *registry.Registry, boards []config.BoardConfig) error {
	for _, cfg := range boards {
		cfg := cfg
		if _, err := NewGenericBinding(cfg); err != nil {
			return err
		}
		if cfg.LibraryDir != "" && !dynlib.RuntimeSearchPath() {
			logger.Warn("library_dir is used to locate the library only; its other libraries "+
				"must resolve through rpath or the environment at process start",
				zap.String("board", cfg.Name),
				zap.String("library_dir", cfg.LibraryDir))
		}
		factory := func() (*board.Binding, error) {
			return NewGenericBinding(cfg)
		}
		info := registry.BoardInfo{
			Description: "configured board",
			Vendor:      "generic",
			Platforms:   cfg.Platforms,
		}
		if err := r.Register(cfg.Name, factory, info); err != nil {
			return err
		}
	}
	return nil
}
