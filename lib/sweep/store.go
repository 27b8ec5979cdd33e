// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package sweep

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Change reports one stored value that changed.
type Change struct {
	Role Role
	Key  string
	Old  Value
	New  Value
	// Propagated is set on the copies made to sibling channels when a
	// synchronized field is edited.
	Propagated bool
}

// Store holds the editable channel configurations of one test and keeps the
// synchronized fields equal across them.
type Store struct {
	log      *zap.Logger
	onChange func(Change)

	mu  sync.Mutex
	chs Channels
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for rejected input and updates.
func WithLogger(l *zap.Logger) StoreOption { return func(s *Store) { s.log = l } }

// OnChange registers fn to be called, outside the store lock, for every
// value that changes.
func OnChange(fn func(Change)) StoreOption { return func(s *Store) { s.onChange = fn } }

// NewStore returns a store seeded with chs.
func NewStore(chs Channels, opts ...StoreOption) *Store {
	s := &Store{log: zap.NewNop(), chs: chs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Channels returns a snapshot of all three configurations.
func (s *Store) Channels() Channels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chs
}

// Config returns a snapshot of one configuration.
func (s *Store) Config(r Role) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chs.Get(r)
}

// Set coerces raw and stores it under key for role r. Blank numeric input is
// stored as a blank. Input that does not coerce is logged and rejected, and
// the previous value is kept. Setting a synchronized field also copies it to
// the other two channels in the same step.
func (s *Store) Set(r Role, key, raw string) error {
	m, ok := Lookup(SweepMeta, key)
	if !ok {
		return errors.Wrap(ErrUnknownField, key)
	}
	v, err := m.Coerce(raw)
	if err != nil {
		s.log.Warn("rejected parameter", zap.Stringer("role", r), zap.String("key", key), zap.String("input", raw), zap.Error(err))
		return err
	}
	s.mu.Lock()
	changes := s.update(r, key, v)
	s.mu.Unlock()
	s.notify(changes)
	return nil
}

// SetBatch applies several raw values to role r in display order. Every
// valid value is stored; the errors of the rejected ones are combined.
func (s *Store) SetBatch(r Role, raw map[string]string) error {
	var err error
	for k := range raw {
		if _, ok := Lookup(SweepMeta, k); !ok {
			err = multierr.Append(err, errors.Wrap(ErrUnknownField, k))
		}
	}
	for _, m := range SweepMeta {
		if in, ok := raw[m.Key]; ok {
			err = multierr.Append(err, s.Set(r, m.Key, in))
		}
	}
	return err
}

// update stores v and, for a synchronized key, copies it to the siblings by
// direct assignment, so the copies never propagate again. Caller holds mu.
func (s *Store) update(r Role, key string, v Value) []Change {
	cfg := s.chs.ptr(r)
	old, _ := cfg.Get(key)
	if old.Equal(v) {
		return nil
	}
	cfg.set(key, v)
	s.log.Info("updated parameter", zap.Stringer("role", r), zap.String("key", key), zap.Stringer("value", v))
	changes := []Change{{Role: r, Key: key, Old: old, New: v}}
	if !Synchronized[key] {
		return changes
	}
	for _, sib := range Roles {
		if sib == r {
			continue
		}
		c := s.chs.ptr(sib)
		prev, _ := c.Get(key)
		c.set(key, v)
		changes = append(changes, Change{Role: sib, Key: key, Old: prev, New: v, Propagated: true})
	}
	s.log.Info("synchronized parameter", zap.String("key", key), zap.Stringer("value", v))
	return changes
}

func (s *Store) notify(changes []Change) {
	if s.onChange == nil {
		return
	}
	for _, c := range changes {
		s.onChange(c)
	}
}
