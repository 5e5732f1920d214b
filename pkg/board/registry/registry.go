// Package registry maps board names to the vendor bindings that drive them.
// Vendor packages register themselves from init; hosts look boards up by name
// and create adapters without compile-time knowledge of any vendor.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dynboard/pkg/board"
	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/logger"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

// BindingFactory returns a fresh binding for one adapter
type BindingFactory func() (*board.Binding, error)

// BoardInfo describes a registered board
type BoardInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Vendor      string   `json:"vendor"`
	Channels    int      `json:"channels"`
	Library     string   `json:"library"`
	Platforms   []string `json:"platforms"`
	Singleton   bool     `json:"singleton"`
	Supported   bool     `json:"supported"`
}

type entry struct {
	factory BindingFactory
	info    BoardInfo
}

// Registry manages board registration and adapter creation
type Registry struct {
	boards map[string]entry
	mu     sync.RWMutex
	logger *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new board registry
func NewRegistry() *Registry {
	return &Registry{
		boards: make(map[string]entry),
		logger: logger.Get().With(zap.String("component", "board_registry")),
	}
}

// Register registers a binding factory under name. Channels, library and
// singleton fields of info are filled from the binding.
func (r *Registry) Register(name string, factory BindingFactory, info BoardInfo) error {
	binding, err := factory()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid binding for board %s", name))
	}
	if err := binding.Validate(); err != nil {
		return err
	}

	info.Name = name
	info.Channels = binding.ChannelCount
	info.Library = binding.LibraryName()
	info.Singleton = binding.Singleton
	info.Supported = binding.PlatformSupported()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.boards[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("board %s already registered", name))
	}

	r.boards[name] = entry{factory: factory, info: info}
	r.logger.Debug("board registered", zap.String("name", name), zap.Bool("supported", info.Supported))
	return nil
}

// Binding returns a fresh binding for the named board
func (r *Registry) Binding(name string) (*board.Binding, error) {
	r.mu.RLock()
	e, exists := r.boards[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("board %s not found", name)).
			WithCode(errors.StatusUnsupportedBoard)
	}
	return e.factory()
}

// Create creates an adapter for the named board
func (r *Registry) Create(name string, params models.InputParameters, opts ...board.Option) (*board.Adapter, error) {
	binding, err := r.Binding(name)
	if err != nil {
		return nil, err
	}
	adapter, err := board.NewAdapter(binding, params, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create adapter for board %s", name))
	}
	return adapter, nil
}

// List returns the registered board names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.boards))
	for name := range r.boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has checks if a board is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.boards[name]
	return exists
}

// Info returns the catalog entry of a board
func (r *Registry) Info(name string) (BoardInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.boards[name]
	if !exists {
		return BoardInfo{}, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("board %s not found", name)).
			WithCode(errors.StatusUnsupportedBoard)
	}
	return e.info, nil
}

// Catalog returns the catalog entries of every board, sorted by name
func (r *Registry) Catalog() []BoardInfo {
	names := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]BoardInfo, 0, len(names))
	for _, name := range names {
		if e, ok := r.boards[name]; ok {
			infos = append(infos, e.info)
		}
	}
	return infos
}

// Clear removes all registered boards (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boards = make(map[string]entry)
}

// Global registry functions

// Register registers a board in the global registry
func Register(name string, factory BindingFactory, info BoardInfo) error {
	return globalRegistry.Register(name, factory, info)
}

// MustRegister is Register for vendor init functions
func MustRegister(name string, factory BindingFactory, info BoardInfo) {
	if err := Register(name, factory, info); err != nil {
		panic(err)
	}
}

// Create creates an adapter from the global registry
func Create(name string, params models.InputParameters, opts ...board.Option) (*board.Adapter, error) {
	return globalRegistry.Create(name, params, opts...)
}

// List returns registered boards from the global registry
func List() []string {
	return globalRegistry.List()
}

// Has checks if a board is registered in the global registry
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// Info returns catalog information from the global registry
func Info(name string) (BoardInfo, error) {
	return globalRegistry.Info(name)
}

// Catalog lists catalog information from the global registry
func Catalog() []BoardInfo {
	return globalRegistry.Catalog()
}

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}
