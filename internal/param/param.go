package param

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Type is the value type of a parameter.
type Type int

const (
	Int32 Type = iota + 1
	Float64
)

func (t Type) String() string {
	switch t {
	case Int32:
		return "int32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Status is the failure code of a parameter operation.
type Status int

const (
	BadAddress    Status = 3
	AlreadyExists Status = 6
	NotFound      Status = 7
	WrongType     Status = 8
	BadIndex      Status = 9
	Undefined     Status = 10
)

var statusNames = map[Status]string{
	BadAddress:    "bad address",
	AlreadyExists: "parameter already exists",
	NotFound:      "parameter not found",
	WrongType:     "wrong parameter type",
	BadIndex:      "bad parameter index",
	Undefined:     "parameter undefined",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Sentinels matched by *Error through errors.Is.
var (
	ErrBadAddress    = errors.New("bad address")
	ErrAlreadyExists = errors.New("parameter already exists")
	ErrNotFound      = errors.New("parameter not found")
	ErrWrongType     = errors.New("wrong parameter type")
	ErrBadIndex      = errors.New("bad parameter index")
	ErrUndefined     = errors.New("parameter undefined")
)

var sentinels = map[Status]error{
	BadAddress:    ErrBadAddress,
	AlreadyExists: ErrAlreadyExists,
	NotFound:      ErrNotFound,
	WrongType:     ErrWrongType,
	BadIndex:      ErrBadIndex,
	Undefined:     ErrUndefined,
}

// Error is returned by all failing List operations.
type Error struct {
	Op     string
	Index  int
	Addr   int
	Status Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("param: %s index=%d addr=%d: %s", e.Op, e.Index, e.Addr, e.Status)
}

func (e *Error) Is(target error) bool {
	return sentinels[e.Status] == target
}

// StatusOf returns the Status carried by err, or 0 when err is nil or not
// a parameter error.
func StatusOf(err error) Status {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

// Update is one changed value delivered by CallCallbacks.
type Update struct {
	Addr  int       `json:"addr"`
	Index int       `json:"index"`
	Name  string    `json:"name"`
	Type  Type      `json:"-"`
	Int   int32     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Time  time.Time `json:"time"`
}

// Value returns the value as int32 or float64.
func (u Update) Value() any {
	if u.Type == Float64 {
		return u.Float
	}
	return u.Int
}

type def struct {
	name string
	typ  Type
}

type value struct {
	i       int32
	f       float64
	defined bool
	changed bool
	time    time.Time
}

// List is the parameter cache of one driver.
type List struct {
	mu      sync.RWMutex
	maxAddr int
	defs    []def
	byName  map[string]int
	values  [][]value // [addr][index]
	now     func() time.Time

	subMu  sync.RWMutex
	subs   map[int]func(Update)
	nextID int
}

// New creates an empty list with maxAddr addresses.
func New(maxAddr int) *List {
	if maxAddr < 1 {
		maxAddr = 1
	}
	return &List{
		maxAddr: maxAddr,
		byName:  make(map[string]int),
		values:  make([][]value, maxAddr),
		now:     time.Now,
		subs:    make(map[int]func(Update)),
	}
}

// MaxAddr returns the number of addresses.
func (l *List) MaxAddr() int { return l.maxAddr }

// Create registers a parameter on all addresses and returns its index.
func (l *List) Create(name string, t Type) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if idx, ok := l.byName[name]; ok {
		return idx, &Error{Op: "Create " + name, Index: idx, Status: AlreadyExists}
	}
	if t != Int32 && t != Float64 {
		return -1, &Error{Op: "Create " + name, Index: -1, Status: WrongType}
	}
	idx := len(l.defs)
	l.defs = append(l.defs, def{name: name, typ: t})
	l.byName[name] = idx
	for a := range l.values {
		l.values[a] = append(l.values[a], value{})
	}
	return idx, nil
}

// Find returns the index of a parameter by name.
func (l *List) Find(name string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byName[name]
	if !ok {
		return -1, &Error{Op: "Find " + name, Index: -1, Status: NotFound}
	}
	return idx, nil
}

// Name returns the name of the parameter at index.
func (l *List) Name(index int) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.defs) {
		return "", false
	}
	return l.defs[index].name, true
}

// TypeOf returns the type of the parameter at index.
func (l *List) TypeOf(index int) (Type, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.defs) {
		return 0, false
	}
	return l.defs[index].typ, true
}

// Count returns the number of registered parameters.
func (l *List) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.defs)
}

// slot validates (addr, index, type) and returns the value slot. The
// caller holds l.mu.
func (l *List) slot(op string, addr, index int, t Type) (*value, error) {
	if index < 0 || index >= len(l.defs) {
		return nil, &Error{Op: op, Index: index, Addr: addr, Status: BadIndex}
	}
	if addr < 0 || addr >= l.maxAddr {
		return nil, &Error{Op: op, Index: index, Addr: addr, Status: BadAddress}
	}
	if l.defs[index].typ != t {
		return nil, &Error{Op: op, Index: index, Addr: addr, Status: WrongType}
	}
	return &l.values[addr][index], nil
}

// SetInteger stores an int32 value and marks it changed.
func (l *List) SetInteger(addr, index int, v int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.slot("SetInteger", addr, index, Int32)
	if err != nil {
		return err
	}
	if !s.defined || s.i != v {
		s.changed = true
	}
	s.i, s.defined, s.time = v, true, l.now()
	return nil
}

// SetIntegers stores several int32 values at addr under one lock, so
// Snapshot and Get never observe part of them. Nothing is stored if any
// index is invalid.
func (l *List) SetIntegers(addr int, values map[int]int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	slots := make(map[int]*value, len(values))
	for idx := range values {
		s, err := l.slot("SetIntegers", addr, idx, Int32)
		if err != nil {
			return err
		}
		slots[idx] = s
	}
	now := l.now()
	for idx, v := range values {
		s := slots[idx]
		if !s.defined || s.i != v {
			s.changed = true
		}
		s.i, s.defined, s.time = v, true, now
	}
	return nil
}

// GetInteger reads an int32 value.
func (l *List) GetInteger(addr, index int) (int32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.slot("GetInteger", addr, index, Int32)
	if err != nil {
		return 0, err
	}
	if !s.defined {
		return 0, &Error{Op: "GetInteger", Index: index, Addr: addr, Status: Undefined}
	}
	return s.i, nil
}

// SetDouble stores a float64 value and marks it changed.
func (l *List) SetDouble(addr, index int, v float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.slot("SetDouble", addr, index, Float64)
	if err != nil {
		return err
	}
	if !s.defined || s.f != v {
		s.changed = true
	}
	s.f, s.defined, s.time = v, true, l.now()
	return nil
}

// GetDouble reads a float64 value.
func (l *List) GetDouble(addr, index int) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, err := l.slot("GetDouble", addr, index, Float64)
	if err != nil {
		return 0, err
	}
	if !s.defined {
		return 0, &Error{Op: "GetDouble", Index: index, Addr: addr, Status: Undefined}
	}
	return s.f, nil
}

func (l *List) update(addr, index int, s value) Update {
	d := l.defs[index]
	return Update{Addr: addr, Index: index, Name: d.name, Type: d.typ, Int: s.i, Float: s.f, Time: s.time}
}

// Snapshot returns the defined values at addr in index order.
func (l *List) Snapshot(addr int) ([]Update, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if addr < 0 || addr >= l.maxAddr {
		return nil, &Error{Op: "Snapshot", Index: -1, Addr: addr, Status: BadAddress}
	}
	var out []Update
	for idx, s := range l.values[addr] {
		if s.defined {
			out = append(out, l.update(addr, idx, s))
		}
	}
	return out, nil
}

// CallCallbacks delivers every changed value at addr to the subscribers in
// index order and clears the changed marks. Subscribers run on the calling
// goroutine, outside the list lock.
func (l *List) CallCallbacks(addr int) error {
	l.mu.Lock()
	if addr < 0 || addr >= l.maxAddr {
		l.mu.Unlock()
		return &Error{Op: "CallCallbacks", Index: -1, Addr: addr, Status: BadAddress}
	}
	var updates []Update
	for idx := range l.values[addr] {
		s := &l.values[addr][idx]
		if s.changed {
			updates = append(updates, l.update(addr, idx, *s))
			s.changed = false
		}
	}
	l.mu.Unlock()

	if len(updates) == 0 {
		return nil
	}

	l.subMu.RLock()
	ids := make([]int, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Update), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.subs[id])
	}
	l.subMu.RUnlock()

	for _, u := range updates {
		for _, fn := range fns {
			fn(u)
		}
	}
	return nil
}

// Subscribe registers fn for value updates. The returned function removes
// the subscription and may be called more than once.
func (l *List) Subscribe(fn func(Update)) (cancel func()) {
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}
