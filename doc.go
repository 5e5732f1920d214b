// Package dynboard hosts vendor-supplied native acquisition libraries behind
// one lifecycle API.
//
// A board is described by a Binding (pkg/board): the library file name, the
// names of its exported entry points, the platforms it runs on and whether
// only one instance may exist per process. The generic Adapter loads that
// library at runtime without cgo, resolves the entry points and drives the
// session:
//
//	prepare -> start -> stop -> release
//
// While streaming, a background goroutine pulls samples from the vendor read
// entry point into an output.Output, which keeps a ring buffer of the most
// recent samples and optionally forwards them to a file or a UDP streaming
// board.
//
// # Quick Start
//
//	a, err := registry.Create(vendors.GforcePro, models.InputParameters{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.ReleaseSession()
//
//	if err := a.PrepareSession(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := a.StartStream(450000, "file://emg.csv:w"); err != nil {
//	    log.Fatal(err)
//	}
//	time.Sleep(10 * time.Second)
//	_ = a.StopStream()
//
// Boards that are not compiled in can be declared in the configuration file
// (see pkg/config) and are registered by the dynboard CLI at startup.
//
// Errors are *errors.Error values; errors.Status maps any of them to the
// integer status code reported to the host.
package dynboard
