package internal

import (
	"reflect"
	"sync"

	"github.com/srlehn/kmsdisplay/internal/errors"
)

// Closer runs registered close functions in reverse registration order.
type Closer interface {
	Close() error
	OnClose(onClose func() error)
	AddClosers(closers ...interface{ Close() error })
}

var _ Closer = (*lifoCloser)(nil)

type lifoCloser struct {
	mu           sync.Mutex
	onCloseFuncs []func() error
	initObjs     map[initObjKey]struct{}
}

type initObjKey struct {
	p uintptr
	t string
}

func NewCloser() Closer { return &lifoCloser{} }

// Close is safe to call more than once; every close func runs at most once.
func (c *lifoCloser) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	funcs := c.onCloseFuncs
	c.onCloseFuncs = nil
	c.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i > -1; i-- {
		if onCloseFunc := funcs[i]; onCloseFunc != nil {
			if err := onCloseFunc(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func (c *lifoCloser) OnClose(onClose func() error) {
	if c == nil || onClose == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCloseFuncs = append(c.onCloseFuncs, onClose)
}

func (c *lifoCloser) AddClosers(closers ...interface{ Close() error }) {
	if c == nil || len(closers) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initObjs == nil {
		c.initObjs = make(map[initObjKey]struct{})
	}
	for _, cl := range closers {
		if cl == nil {
			continue
		}
		objType := reflect.TypeOf(cl)
		var ptr any = cl
		switch objType.Kind() {
		// don't use slice, map, func as map keys
		case reflect.Slice, reflect.Map, reflect.Func:
			ptr = &cl
		case reflect.Pointer:
		default:
			ptr = &cl
		}
		key := initObjKey{p: reflect.ValueOf(ptr).Pointer(), t: objType.String()}
		if _, alreadyAdded := c.initObjs[key]; alreadyAdded {
			continue
		}
		c.initObjs[key] = struct{}{}
		c.onCloseFuncs = append(c.onCloseFuncs, func() error {
			err := cl.Close()
			c.mu.Lock()
			delete(c.initObjs, key)
			c.mu.Unlock()
			if err != nil {
				return errors.New(err)
			}
			return nil
		})
	}
}
