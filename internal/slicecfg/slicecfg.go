// Package slicecfg loads the slice registry (C10) from a YAML file and
// hot-reloads it on change, repurposing the teacher's fsnotify
// directory-watch idiom (originally used to notice an OVSDB socket
// reappearing) for noticing an edited slice configuration instead.
package slicecfg

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sync"

	log "github.com/Sirupsen/logrus"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/crotsos/flowvisor/internal/engine"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/slice"
	"github.com/crotsos/flowvisor/internal/switchchan"
	"github.com/crotsos/flowvisor/internal/transport"
)

type matchConfig struct {
	DlType *uint16 `yaml:"dl_type"`
	InPort *uint16 `yaml:"in_port"`
}

type sliceEntry struct {
	ID         string      `yaml:"id"`
	Controller string      `yaml:"controller"`
	DPIDHint   uint64      `yaml:"dpid_hint"`
	Match      matchConfig `yaml:"match"`
}

type fileConfig struct {
	Slices []sliceEntry `yaml:"slices"`
}

// Loader owns the set of slices currently applied from Path, so a reload
// can diff against it: new entries dial out and register, entries no
// longer present tear down.
type Loader struct {
	Engine *engine.Engine
	Path   string

	mu     sync.Mutex
	active map[string]*switchchan.Handler
}

func New(e *engine.Engine, path string) *Loader {
	return &Loader{Engine: e, Path: path, active: map[string]*switchchan.Handler{}}
}

// Load reads Path once and applies it synchronously.
func (l *Loader) Load(ctx context.Context) error {
	cfg, err := l.parse()
	if err != nil {
		return err
	}
	l.apply(ctx, cfg)
	return nil
}

// Watch reloads whenever Path's directory reports a write, until ctx is
// cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(l.Path)); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(l.Path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.Load(ctx); err != nil {
				log.Errorf("slicecfg: reload %s: %v", l.Path, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("slicecfg: watch %s: %v", l.Path, err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Loader) parse() (*fileConfig, error) {
	data, err := ioutil.ReadFile(l.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "slicecfg: read %s", l.Path)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "slicecfg: parse %s", l.Path)
	}
	return &cfg, nil
}

// apply dials every newly-named slice's controller and registers it,
// then tears down any previously-applied slice no longer present.
// Changing an already-applied slice's match or dpid_hint in place is not
// attempted; remove it and re-add it under a new id instead.
func (l *Loader) apply(ctx context.Context, cfg *fileConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := map[string]bool{}
	for _, se := range cfg.Slices {
		seen[se.ID] = true
		if _, ok := l.active[se.ID]; ok {
			continue
		}
		t, err := transport.Dial(ctx, se.Controller)
		if err != nil {
			log.Errorf("slicecfg: dial slice %s controller %s: %v", se.ID, se.Controller, err)
			continue
		}
		h := l.Engine.NewControllerSession(t)
		go h.Run()
		l.Engine.AddSlice(se.ID, se.DPIDHint, buildFilter(se.Match), h)
		l.active[se.ID] = h
		log.Infof("slicecfg: applied slice %s -> %s", se.ID, se.Controller)
	}

	for id, h := range l.active {
		if seen[id] {
			continue
		}
		l.Engine.RemoveSlice(id)
		h.Transport.Close()
		delete(l.active, id)
		log.Infof("slicecfg: removed slice %s", id)
	}
}

func buildFilter(m matchConfig) slice.Filter {
	match := ofp10.Match{Wildcards: ^uint32(0)}
	if m.DlType != nil {
		match.DlType = *m.DlType
		match.Wildcards &^= ofp10.WildcardDlType
	}
	if m.InPort != nil {
		match.InPort = *m.InPort
		match.Wildcards &^= ofp10.WildcardInPort
	}
	return slice.Filter{Match: match}
}
