package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrUnknownCommand = errors.New("command not found")
	ErrUsage          = errors.New("usage")
	ErrDuplicate      = errors.New("command already registered")
)

// ArgType is the type of a command argument.
type ArgType int

const (
	String ArgType = iota
	Int
	Double
)

func (t ArgType) String() string {
	switch t {
	case Int:
		return "int"
	case Double:
		return "double"
	default:
		return "string"
	}
}

// Arg describes one argument. Optional arguments must come last.
type Arg struct {
	Name     string
	Type     ArgType
	Optional bool
}

// FuncDef describes a command.
type FuncDef struct {
	Name string
	Help string
	Args []Arg
}

// Usage renders the call signature, e.g. "fpsRead port param addr".
func (d FuncDef) Usage() string {
	var b strings.Builder
	b.WriteString(d.Name)
	for _, a := range d.Args {
		if a.Optional {
			fmt.Fprintf(&b, " [%s]", a.Name)
		} else {
			fmt.Fprintf(&b, " %s", a.Name)
		}
	}
	return b.String()
}

// Args holds converted argument values. Missing optional arguments read
// as zero values.
type Args struct {
	vals []interface{}
}

// Len returns how many arguments were given.
func (a Args) Len() int { return len(a.vals) }

func (a Args) String(i int) string {
	if i < len(a.vals) {
		s, _ := a.vals[i].(string)
		return s
	}
	return ""
}

func (a Args) Int(i int) int {
	if i < len(a.vals) {
		n, _ := a.vals[i].(int)
		return n
	}
	return 0
}

func (a Args) Double(i int) float64 {
	if i < len(a.vals) {
		f, _ := a.vals[i].(float64)
		return f
	}
	return 0
}

// Handler runs a command. Output goes to out.
type Handler func(ctx context.Context, out io.Writer, args Args) error

type entry struct {
	def     FuncDef
	handler Handler
}

// Shell is a command registry.
type Shell struct {
	out    io.Writer
	logger *slog.Logger

	mu   sync.RWMutex
	cmds map[string]entry
}

// New creates a shell writing command output to out, with help
// registered.
func New(out io.Writer, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Shell{
		out:    out,
		logger: logger.With("component", "shell"),
		cmds:   make(map[string]entry),
	}
	_ = s.Register(FuncDef{
		Name: "help",
		Help: "list commands, or show the usage of one",
		Args: []Arg{{Name: "command", Type: String, Optional: true}},
	}, s.help)
	return s
}

// Register adds a command.
func (s *Shell) Register(def FuncDef, h Handler) error {
	if def.Name == "" || h == nil {
		return fmt.Errorf("register: name and handler are required")
	}
	seenOptional := false
	for _, a := range def.Args {
		if seenOptional && !a.Optional {
			return fmt.Errorf("register %s: required argument %s after optional", def.Name, a.Name)
		}
		seenOptional = seenOptional || a.Optional
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cmds[def.Name]; ok {
		return fmt.Errorf("register %s: %w", def.Name, ErrDuplicate)
	}
	s.cmds[def.Name] = entry{def: def, handler: h}
	return nil
}

// Alias registers name as another name for an existing command.
func (s *Shell) Alias(alias, name string) error {
	s.mu.RLock()
	e, ok := s.cmds[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("alias %s: %s: %w", alias, name, ErrUnknownCommand)
	}
	def := e.def
	def.Name = alias
	def.Help = "alias of " + name
	return s.Register(def, e.handler)
}

// Commands returns the registered command names, sorted.
func (s *Shell) Commands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cmds))
	for n := range s.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Exec parses and runs one line. Blank lines and comments do nothing.
func (s *Shell) Exec(ctx context.Context, line string) error {
	fields, err := tokenize(line)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	s.mu.RLock()
	e, ok := s.cmds[fields[0]]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", fields[0], ErrUnknownCommand)
	}

	args, err := convert(e.def, fields[1:])
	if err != nil {
		return err
	}
	s.logger.Debug("exec", "command", e.def.Name, "args", fields[1:])
	return e.handler(ctx, s.out, args)
}

// RunScript executes r line by line. A failing line is reported and the
// script continues; the errors are returned joined.
func (s *Shell) RunScript(ctx context.Context, r io.Reader) error {
	var errs []error
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if err := s.Exec(ctx, line); err != nil {
			s.logger.Error("script command failed", "line", n, "command", strings.TrimSpace(line), "error", err)
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Shell) help(_ context.Context, out io.Writer, args Args) error {
	if name := args.String(0); name != "" {
		s.mu.RLock()
		e, ok := s.cmds[name]
		s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrUnknownCommand)
		}
		fmt.Fprintf(out, "%s\n    %s\n", e.def.Usage(), e.def.Help)
		return nil
	}
	for _, name := range s.Commands() {
		s.mu.RLock()
		e := s.cmds[name]
		s.mu.RUnlock()
		fmt.Fprintf(out, "%-40s %s\n", e.def.Usage(), e.def.Help)
	}
	return nil
}

func convert(def FuncDef, fields []string) (Args, error) {
	if len(fields) > len(def.Args) {
		return Args{}, fmt.Errorf("%w: %s", ErrUsage, def.Usage())
	}
	vals := make([]interface{}, 0, len(fields))
	for i, a := range def.Args {
		if i >= len(fields) {
			if !a.Optional {
				return Args{}, fmt.Errorf("%w: %s", ErrUsage, def.Usage())
			}
			break
		}
		f := fields[i]
		switch a.Type {
		case Int:
			n, err := strconv.ParseInt(f, 0, 32)
			if errors.Is(err, strconv.ErrRange) {
				return Args{}, fmt.Errorf("%w: %s: argument %s: %s is out of int32 range", ErrUsage, def.Name, a.Name, f)
			}
			if err != nil {
				return Args{}, fmt.Errorf("%w: %s: argument %s: %q is not an int", ErrUsage, def.Name, a.Name, f)
			}
			vals = append(vals, int(n))
		case Double:
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Args{}, fmt.Errorf("%w: %s: argument %s: %q is not a double", ErrUsage, def.Name, a.Name, f)
			}
			vals = append(vals, v)
		default:
			vals = append(vals, f)
		}
	}
	return Args{vals: vals}, nil
}

// tokenize splits a line on blanks, commas and parentheses. Double quotes
// group, with backslash escaping the next character.
func tokenize(line string) ([]string, error) {
	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
		quoted  bool
	)
	flush := func() {
		if cur.Len() > 0 || quoted {
			fields = append(fields, cur.String())
		}
		cur.Reset()
		quoted = false
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == '"':
			inQuote = !inQuote
			quoted = true
		case inQuote:
			cur.WriteByte(c)
		case c == '#':
			flush()
			return fields, nil
		case c == ' ' || c == '\t' || c == ',' || c == '(' || c == ')' || c == '\r':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return fields, nil
}
