package elog

// Nop is a Logger that discards everything (see NopProgressReporter for
// the matching ProgressReporter). Callers that
// don't care about diagnostics can leave a Logger field nil; pkg/vmdk
// substitutes this internally rather than making every call site nil-check.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debugf(format string, x ...interface{}) {}
func (nopLogger) Errorf(format string, x ...interface{}) {}
func (nopLogger) Infof(format string, x ...interface{})  {}
func (nopLogger) Printf(format string, x ...interface{}) {}
func (nopLogger) Warnf(format string, x ...interface{})  {}
func (nopLogger) IsInfoEnabled() bool                    { return false }
func (nopLogger) IsDebugEnabled() bool                   { return false }

// NopProgressReporter is a ProgressReporter that returns no-op Progress bars.
var NopProgressReporter ProgressReporter = nopReporter{}

type nopReporter struct{}

func (nopReporter) NewProgress(label string, units string, total int64) Progress {
	return nopProgress{}
}

type nopProgress struct{}

func (nopProgress) Finish(success bool) {}
func (nopProgress) Increment(n int64)   {}
