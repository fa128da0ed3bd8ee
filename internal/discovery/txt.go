package discovery

import (
	"sort"
	"strconv"
	"strings"
)

// TXT record keys.
const (
	TXTKeyVersion   = "version"
	TXTKeyAPI       = "api"
	TXTKeySDK       = "sdk"
	TXTKeyPorts     = "ports"
	TXTKeyPortCount = "nports"
)

// maxTXTValue keeps every key=value string under the 255 byte DNS limit.
const maxTXTValue = 240

// Info is what gets advertised.
type Info struct {
	Instance string
	Port     int
	Version  string
	SDK      string
	Ports    []string
}

// EncodeTXT builds the TXT strings for info. The port list is cut at a
// name boundary when it would not fit one record; nports is always exact.
func EncodeTXT(info Info) []string {
	txt := []string{TXTKeyAPI + "=/api/v1"}
	if info.Version != "" {
		txt = append(txt, TXTKeyVersion+"="+info.Version)
	}
	if info.SDK != "" {
		txt = append(txt, TXTKeySDK+"="+info.SDK)
	}

	names := append([]string(nil), info.Ports...)
	sort.Strings(names)
	var list string
	for _, n := range names {
		next := n
		if list != "" {
			next = list + "," + n
		}
		if len(next) > maxTXTValue {
			break
		}
		list = next
	}
	txt = append(txt,
		TXTKeyPorts+"="+list,
		TXTKeyPortCount+"="+strconv.Itoa(len(names)),
	)
	return txt
}

// DecodeTXT parses key=value TXT strings. Entries without '=' map to "".
func DecodeTXT(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, s := range txt {
		k, v, _ := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
