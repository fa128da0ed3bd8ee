// Command fpstrace prints a request capture written by fpsioc.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/trace"
)

type options struct {
	port, param, op string
	addr            int
	onlyErrors      bool
	since, until    string
	json            bool
}

func main() {
	var o options
	flag.StringVar(&o.port, "port", "", "only records of this port")
	flag.StringVar(&o.param, "param", "", "only records of this parameter")
	flag.StringVar(&o.op, "op", "", "only readInt32, writeInt32 or readFloat64 records")
	flag.IntVar(&o.addr, "addr", -1, "only records of this address")
	flag.BoolVar(&o.onlyErrors, "errors", false, "only failed requests")
	flag.StringVar(&o.since, "since", "", "only records at or after this RFC 3339 time")
	flag.StringVar(&o.until, "until", "", "only records before this RFC 3339 time")
	flag.BoolVar(&o.json, "json", false, "print one JSON object per line")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: fpstrace [flags] capture.cbor\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fpstrace: %v\n", err)
		os.Exit(1)
	}
}

func buildFilter(o options) (trace.Filter, error) {
	f := trace.Filter{Port: o.port, Param: o.param, OnlyError: o.onlyErrors}
	if o.op != "" {
		op, err := trace.ParseOp(o.op)
		if err != nil {
			return f, err
		}
		f.Op = &op
	}
	if o.addr >= 0 {
		addr := o.addr
		f.Addr = &addr
	}
	if o.since != "" {
		t, err := time.Parse(time.RFC3339, o.since)
		if err != nil {
			return f, fmt.Errorf("since: %w", err)
		}
		f.TimeStart = &t
	}
	if o.until != "" {
		t, err := time.Parse(time.RFC3339, o.until)
		if err != nil {
			return f, fmt.Errorf("until: %w", err)
		}
		f.TimeEnd = &t
	}
	return f, nil
}

func run(path string, o options, out io.Writer) error {
	filter, err := buildFilter(o)
	if err != nil {
		return err
	}
	r, err := trace.Open(path, filter)
	if err != nil {
		return err
	}
	defer r.Close()

	enc := json.NewEncoder(out)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if o.json {
			if err := enc.Encode(rec); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, format(rec))
	}
}

// format renders a record the way the driver logs requests.
func format(r trace.Record) string {
	s := fmt.Sprintf("%s %s %s %s[%d] value=%s",
		r.Time.UTC().Format("2006-01-02T15:04:05.000000Z"), r.Port, r.Op, r.Param, r.Addr, r.Value())
	if r.Status != 0 {
		s += fmt.Sprintf(" status=%d", r.Status)
	}
	if r.Vendor != 0 {
		s += fmt.Sprintf(" vendor=%d", r.Vendor)
	}
	if r.Duration > 0 {
		s += " took=" + r.Duration.String()
	}
	if r.Error != "" {
		s += fmt.Sprintf(" error=%q", r.Error)
	}
	return s
}
