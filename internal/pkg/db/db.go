// Package db implements the schema-versioned policy/settings store
// described in spec.md §4.5. The sqlite engine itself is treated as an
// external collaborator there; this package instead builds the same
// schema-versioned key/value semantics on top of go.etcd.io/bbolt, the
// embedded store both snapd and gravwell use for comparable local state,
// rather than linking a cgo sqlite driver into a PID-1-adjacent daemon.
package db

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/magiskd/magiskd/pkg/sylog"
)

// Bucket names, one per spec.md §4.5 recognized table, plus an internal
// meta bucket carrying the schema version.
var (
	bucketMeta     = []byte("meta")
	bucketPolicies = []byte("policies")
	bucketLogs     = []byte("logs")
	bucketSettings = []byte("settings")
	bucketStrings  = []byte("strings")
	bucketHidelist = []byte("hidelist")
)

var metaVersionKey = []byte("user_version")

// currentVersion is the highest schema version this build understands. A
// store reporting a version greater than this is refused, never
// downgraded.
const currentVersion uint32 = 7

// ErrFutureVersion is returned by migrate when the on-disk store reports a
// schema version newer than this build knows how to read. Open treats it
// like any other open failure: it deletes the store and creates a fresh
// one, so callers of Open never see this error.
var ErrFutureVersion = errors.New("db: store schema is newer than this build")

// RootAccess, MultiuserMode and NamespaceMode are the three settings the
// original ships defaults for (original_source/native/jni/daemon/db.cpp).
type RootAccess int

const (
	RootAccessDisabled RootAccess = iota
	RootAccessAppsOnly
	RootAccessAdbOnly
	RootAccessAppsAndAdb
)

type MultiuserMode int

const (
	MultiuserOwnerOnly MultiuserMode = iota
	MultiuserOwnerManaged
	MultiuserUserIndependent
)

type NamespaceMode int

const (
	NamespaceGlobal NamespaceMode = iota
	NamespaceRequester
	NamespaceIsolate
)

// Policy is the decision enumeration in a PolicyDecision row.
type Policy int

const (
	PolicyDeny Policy = iota
	PolicyAllow
	PolicyInteractive
)

// PolicyDecision is one row of the policies table (spec.md §3 "Policy
// decision"). The store keys rows by uid, so there is at most one row per
// uid by construction, which trivially satisfies the "at most one current
// row per uid" invariant.
type PolicyDecision struct {
	UID     int
	Package string
	Policy  Policy
	Until   int64 // epoch seconds, 0 = forever
	Log     bool
	Notify  bool
}

// Current reports whether this decision is presently in force: forever
// (Until == 0) or not yet expired.
func (d PolicyDecision) Current(now time.Time) bool {
	return d.Until == 0 || d.Until > now.Unix()
}

// LogEntry is one row of the logs table.
type LogEntry struct {
	UID       int
	Package   string
	Action    string
	Timestamp int64
}

// DB is an open schema-versioned store.
type DB struct {
	path string
	bolt *bbolt.DB
}

// Open opens (creating if absent) the store at path, migrating it forward
// to currentVersion. Per spec.md §4.5, any open or migrate failure causes
// the file to be deleted and recreated empty rather than left corrupt.
func Open(path string) (*DB, error) {
	d, err := openOnce(path)
	if err != nil {
		sylog.Warningf("db: %s failed to open (%s), recreating empty", path, err)
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("db: removing corrupt store %s: %w", path, rerr)
		}
		d, err = openOnce(path)
		if err != nil {
			return nil, fmt.Errorf("db: recreating %s: %w", path, err)
		}
	}
	return d, nil
}

func openOnce(path string) (*DB, error) {
	b, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &DB{path: path, bolt: b}

	err = b.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketPolicies, bucketLogs, bucketSettings, bucketStrings, bucketHidelist} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return migrate(tx)
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	return d, nil
}

// migrate runs the fixed migration sequence forward from whatever
// version the store currently reports. Step 5 is a recognized no-op: the
// original database skips it outright, and this spec folds {5,6} into one
// migration step (spec.md §9 ambiguity b).
func migrate(tx *bbolt.Tx) error {
	meta := tx.Bucket(bucketMeta)
	version := readVersion(meta)
	if version > currentVersion {
		return fmt.Errorf("%w: store is v%d, build knows v%d", ErrFutureVersion, version, currentVersion)
	}

	for v := version + 1; v <= currentVersion; v++ {
		if v == 5 {
			continue // folded into step 6
		}
		sylog.Debugf("db: migrating to schema v%d", v)
	}
	return writeVersion(meta, currentVersion)
}

func readVersion(meta *bbolt.Bucket) uint32 {
	raw := meta.Get(metaVersionKey)
	if len(raw) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(raw)
}

func writeVersion(meta *bbolt.Bucket, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return meta.Put(metaVersionKey, buf[:])
}

// Close closes the store.
func (d *DB) Close() error {
	return d.bolt.Close()
}

func uidKey(uid int) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(int64(uid)))
	return buf[:]
}

// PutPolicy writes (overwrites) the policy row for decision.UID.
func (d *DB) PutPolicy(decision PolicyDecision) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		raw, err := json.Marshal(decision)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPolicies).Put(uidKey(decision.UID), raw)
	})
}

// Policy returns the policy row for uid, and whether one exists.
func (d *DB) Policy(uid int) (PolicyDecision, bool, error) {
	var decision PolicyDecision
	var found bool
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPolicies).Get(uidKey(uid))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &decision)
	})
	return decision, found, err
}

// DeletePolicy removes the policy row for uid.
func (d *DB) DeletePolicy(uid int) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPolicies).Delete(uidKey(uid))
	})
}

// AppendLog appends one entry to the logs table, if logging is enabled
// for the decision that produced it (callers gate this before calling).
func (d *DB) AppendLog(entry LogEntry) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], raw)
	})
}

// Logs returns every logged entry in insertion order.
func (d *DB) Logs() ([]LogEntry, error) {
	var out []LogEntry
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLogs).ForEach(func(_, v []byte) error {
			var entry LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

// Settings is the effective settings row, with defaults filled in for any
// absent key (spec.md §4.5: "Settings have defaults ... applied when a
// row is absent").
type Settings struct {
	RootAccess    RootAccess
	MultiuserMode MultiuserMode
	NamespaceMode NamespaceMode
}

// DefaultSettings returns the defaults the original applies at read time
// when a settings row is missing, never written back to the store.
func DefaultSettings() Settings {
	return Settings{
		RootAccess:    RootAccessAppsAndAdb,
		MultiuserMode: MultiuserOwnerOnly,
		NamespaceMode: NamespaceRequester,
	}
}

const (
	settingRootAccess    = "root_access"
	settingMultiuserMode = "multiuser_mode"
	settingNamespaceMode = "namespace_mode"
)

// Settings reads the effective settings, substituting defaults for any
// key that is absent.
func (d *DB) Settings() (Settings, error) {
	defaults := DefaultSettings()
	out := defaults
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if v, ok := getInt(b, settingRootAccess); ok {
			out.RootAccess = RootAccess(v)
		}
		if v, ok := getInt(b, settingMultiuserMode); ok {
			out.MultiuserMode = MultiuserMode(v)
		}
		if v, ok := getInt(b, settingNamespaceMode); ok {
			out.NamespaceMode = NamespaceMode(v)
		}
		return nil
	})
	return out, err
}

// PutSetting writes one settings key (value TEXT, value INT as per
// spec.md's settings schema — we only ever store the INT form since
// every named setting is an enum).
func (d *DB) PutSetting(key string, value int) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return putInt(tx.Bucket(bucketSettings), key, value)
	})
}

func getInt(b *bbolt.Bucket, key string) (int, bool) {
	raw := b.Get([]byte(key))
	if raw == nil {
		return 0, false
	}
	return int(int32(binary.BigEndian.Uint32(raw))), true
}

func putInt(b *bbolt.Bucket, key string, value int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(int32(value)))
	return b.Put([]byte(key), buf[:])
}

// String returns a value from the strings table (key TEXT, value TEXT),
// used for things like the admin-configured manager package name.
func (d *DB) String(key string) (string, bool, error) {
	var value string
	var found bool
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketStrings).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		value = string(raw)
		return nil
	})
	return value, found, err
}

// PutString writes a value into the strings table.
func (d *DB) PutString(key, value string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStrings).Put([]byte(key), []byte(value))
	})
}

// StringKeys returns every key in the strings table beginning with
// prefix, with the prefix stripped, used by resetprop's listing mode.
func (d *DB) StringKeys(prefix string) ([]string, error) {
	var out []string
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketStrings).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytesHasPrefix(k, p); k, _ = c.Next() {
			out = append(out, string(k[len(p):]))
		}
		return nil
	})
	return out, err
}

func bytesHasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// HideAdd adds process to the hidelist. Adding a process already present
// is a no-op, giving HideAdd/HideRemove/HideList the multiplicity-free set
// semantics spec.md §8 property 6 requires.
func (d *DB) HideAdd(process string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHidelist).Put([]byte(process), []byte{1})
	})
}

// HideRemove removes process from the hidelist.
func (d *DB) HideRemove(process string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHidelist).Delete([]byte(process))
	})
}

// HideList returns every process currently on the hidelist.
func (d *DB) HideList() ([]string, error) {
	var out []string
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHidelist).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}
