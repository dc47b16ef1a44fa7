// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package ledger implements the external "mounts file" the Mount and
// Unmount operation handlers consult: which uid created a given
// mount, and whether its mount directory should be removed on
// unmount. Badger-backed, grounded on the same badger.Open/Txn.Update
// shape the pack's resource store uses for its own small
// key/value records.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Entry is what the ledger records for one mounted device.
type Entry struct {
	UID                int  `json:"uid"`
	RemoveDirOnUnmount bool `json:"remove_dir_on_unmount"`
}

// Ledger is the mount-tracking contract operation handlers use.
type Ledger interface {
	// HasDevice reports whether device has a recorded mount, and its entry.
	HasDevice(device string) (Entry, bool, error)
	// Add records that device was mounted by entry.UID.
	Add(device string, entry Entry) error
	// Remove clears device's ledger entry.
	Remove(device string) error
	// Close releases the underlying store.
	Close() error
}

// Badger is the shipped Ledger implementation.
type Badger struct {
	db *badger.DB
}

// Open opens (creating if necessary) a badger-backed ledger at dir. An
// empty dir opens an in-memory store, used by tests.
func Open(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open mount ledger: %w", err)
	}
	return &Badger{db: db}, nil
}

func key(device string) []byte {
	return []byte("mount:" + device)
}

// HasDevice reports whether device has a recorded mount.
func (b *Badger) HasDevice(device string) (Entry, bool, error) {
	var entry Entry
	found := false

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(device))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("ledger lookup %s: %w", device, err)
	}

	return entry, found, nil
}

// Add records that device was mounted by entry.UID.
func (b *Badger) Add(device string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(device), data)
	})
}

// Remove clears device's ledger entry.
func (b *Badger) Remove(device string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(device))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close releases the underlying badger store.
func (b *Badger) Close() error {
	return b.db.Close()
}
