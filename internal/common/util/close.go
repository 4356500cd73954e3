package util

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type namedCloser struct {
	name  string
	close func() error
}

// Closers releases resources in the reverse order of their registration. The zero value is ready to use.
type Closers struct {
	entries []namedCloser
}

func (c *Closers) Add(name string, closer io.Closer) {
	c.entries = append(c.entries, namedCloser{name: name, close: closer.Close})
}

// AddFunc registers a cleanup function that cannot fail, e.g. a pool or producer Close.
func (c *Closers) AddFunc(name string, f func()) {
	c.entries = append(c.entries, namedCloser{name: name, close: func() error {
		f()
		return nil
	}})
}

// CloseAll runs every closer, logs each failure and returns all of them combined. The list is emptied, so calling
// CloseAll again is a no-op.
func (c *Closers) CloseAll() error {
	var result *multierror.Error
	for i := len(c.entries) - 1; i >= 0; i-- {
		entry := c.entries[i]
		if err := entry.close(); err != nil {
			log.WithError(err).Warnf("Failed to close %s cleanly", entry.name)
			result = multierror.Append(result, errors.WithMessagef(err, "closing %s", entry.name))
		}
	}
	c.entries = nil
	return result.ErrorOrNil()
}
