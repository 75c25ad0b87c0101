package localloader

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sentinelgate/ruleengine/internal/domain/loader"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// Watch attaches cb to the root's change stream, starting the underlying
// fsnotify watcher on first call. Per-id events are debounced (default
// 300ms, spec §4.D); a burst of Create/Write/Remove for the same id inside
// the debounce window collapses to one Change whose kind is that of the last
// event observed in the window; the file itself is not re-examined.
func (l *Loader) Watch(_ context.Context, cb loader.ChangeFunc) (func(), error) {
	l.mu.Lock()
	if l.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			l.mu.Unlock()
			return nil, errs.Wrap(errs.KindFileSystemError, err, "starting filesystem watcher")
		}
		if err := w.Add(l.root); err != nil {
			_ = w.Close()
			l.mu.Unlock()
			return nil, errs.Wrap(errs.KindFileSystemError, err, "watching root %q", l.root)
		}
		l.watcher = w
		l.stopCh = make(chan struct{})
		go l.watchLoop(w, l.stopCh)
	}
	id := l.nextCBID
	l.nextCBID++
	l.callbacks[id] = cb
	l.mu.Unlock()

	stop := func() {
		l.mu.Lock()
		delete(l.callbacks, id)
		l.mu.Unlock()
	}
	return stop, nil
}

// pendingChange tracks the debounce state for one rule id.
type pendingChange struct {
	kind  loader.ChangeKind
	timer *time.Timer
}

func (l *Loader) watchLoop(w *fsnotify.Watcher, stop chan struct{}) {
	var debounceMu sync.Mutex
	pending := make(map[string]*pendingChange)

	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !l.isRuleFile(event.Name) {
				continue
			}
			id, err := l.idForPath(event.Name)
			if err != nil {
				continue
			}
			kind := classify(event.Op)

			debounceMu.Lock()
			if pc, ok := pending[string(id)]; ok {
				pc.kind = kind
				pc.timer.Reset(l.debounce)
			} else {
				idCopy := id
				pc := &pendingChange{kind: kind}
				pc.timer = time.AfterFunc(l.debounce, func() {
					debounceMu.Lock()
					delete(pending, string(idCopy))
					finalKind := pc.kind
					debounceMu.Unlock()
					l.dispatch(loader.Change{ID: idCopy, Kind: finalKind})
				})
				pending[string(id)] = pc
			}
			debounceMu.Unlock()
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func classify(op fsnotify.Op) loader.ChangeKind {
	switch {
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return loader.Deleted
	case op&fsnotify.Create != 0:
		return loader.Added
	default:
		return loader.Modified
	}
}

// dispatch invokes every registered callback, one after another; a panicking
// callback is recovered and does not stop delivery to the others (spec §4.D).
func (l *Loader) dispatch(change loader.Change) {
	l.mu.Lock()
	cbs := make([]loader.ChangeFunc, 0, len(l.callbacks))
	for _, cb := range l.callbacks {
		cbs = append(cbs, cb)
	}
	l.mu.Unlock()

	for _, cb := range cbs {
		func(cb loader.ChangeFunc) {
			defer func() { _ = recover() }()
			cb(change)
		}(cb)
	}
}

// Close stops the underlying watcher, if started.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
