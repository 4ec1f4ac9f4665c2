// Package cloud lists instances across providers in one shape.
package cloud

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

type CloudInstance struct {
	ID         string
	Name       string
	State      string
	PublicIPv4 net.IP
	PublicIPv6 net.IP
	Tags       map[string]string
}

// Row is the instance formatted for a table, missing values as "-".
func (i CloudInstance) Row() []string {
	return []string{
		orDash(i.Name),
		orDash(i.ID),
		orDash(i.State),
		ipOrDash(i.PublicIPv4),
		ipOrDash(i.PublicIPv6),
		FormatTags(i.Tags),
	}
}

var Header = []string{"NAME", "ID", "STATE", "IPV4", "IPV6", "TAGS"}

func FormatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, tags[k]))
	}
	return strings.Join(parts, ", ")
}

func sortByName(instances []CloudInstance) {
	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].Name < instances[j].Name
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func ipOrDash(ip net.IP) string {
	if ip == nil {
		return "-"
	}
	return ip.String()
}
