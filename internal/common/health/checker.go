// Package health backs the /health endpoint. A job manager replica reports healthy once startup has completed and
// every dependency registered after startup answers.
package health

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type Checker interface {
	Check() error
}

// CheckerFunc adapts a plain function, e.g. a redis ping, to Checker.
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}

// StartupCompleteChecker fails until MarkComplete has been called.
type StartupCompleteChecker struct {
	mutex      sync.Mutex
	isComplete bool
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	return &StartupCompleteChecker{}
}

func (checker *StartupCompleteChecker) MarkComplete() {
	checker.mutex.Lock()
	defer checker.mutex.Unlock()
	checker.isComplete = true
}

func (checker *StartupCompleteChecker) Check() error {
	checker.mutex.Lock()
	defer checker.mutex.Unlock()
	if checker.isComplete {
		return nil
	}
	return errors.New("startup is not complete")
}

// MultiChecker passes only if all of its checkers pass. Checkers may be added while it is being served.
type MultiChecker struct {
	mutex    sync.RWMutex
	checkers []Checker
}

func NewMultiChecker(checkers ...Checker) *MultiChecker {
	return &MultiChecker{checkers: checkers}
}

func (mc *MultiChecker) Add(checker Checker) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.checkers = append(mc.checkers, checker)
}

func (mc *MultiChecker) Check() error {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	var result *multierror.Error
	for _, checker := range mc.checkers {
		result = multierror.Append(result, checker.Check())
	}
	return result.ErrorOrNil()
}
