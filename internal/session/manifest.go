package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// ErrInvalidManifest is returned for a manifest the ladder cannot be built from.
var ErrInvalidManifest = errors.New("invalid manifest")

const streamInfTag = "#EXT-X-STREAM-INF:"

// ParseMasterPlaylist extracts the BANDWIDTH of every #EXT-X-STREAM-INF
// variant of an HLS master playlist. The result is sorted ascending with
// duplicates removed, ready for abr.NewLadder.
func ParseMasterPlaylist(r io.Reader) ([]float64, error) {
	sc := bufio.NewScanner(r)
	first := true
	seen := make(map[float64]bool)
	var out []float64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			if line == "" {
				continue
			}
			if line != "#EXTM3U" {
				return nil, fmt.Errorf("%w: missing #EXTM3U header", ErrInvalidManifest)
			}
			first = false
			continue
		}
		if !strings.HasPrefix(line, streamInfTag) {
			continue
		}
		raw, ok := attributes(strings.TrimPrefix(line, streamInfTag))["BANDWIDTH"]
		if !ok {
			return nil, fmt.Errorf("%w: variant without BANDWIDTH: %q", ErrInvalidManifest, line)
		}
		bw, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || bw == 0 {
			return nil, fmt.Errorf("%w: bad BANDWIDTH %q", ErrInvalidManifest, raw)
		}
		if v := float64(bw); !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if first {
		return nil, fmt.Errorf("%w: empty playlist", ErrInvalidManifest)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no variant streams", ErrInvalidManifest)
	}
	sort.Float64s(out)
	return out, nil
}

// attributes splits an HLS attribute list. Quoted values may contain commas.
func attributes(list string) map[string]string {
	attrs := make(map[string]string)
	for list != "" {
		key, rest, ok := strings.Cut(list, "=")
		if !ok {
			break
		}
		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				val, rest = rest[1:], ""
			} else {
				val, rest = rest[1:end+1], rest[end+2:]
			}
			rest = strings.TrimPrefix(rest, ",")
		} else {
			val, rest, _ = strings.Cut(rest, ",")
		}
		attrs[strings.TrimSpace(key)] = val
		list = rest
	}
	return attrs
}

// BuildMasterPlaylist renders a ladder as an HLS master playlist. Variant i
// points at uriPrefix + i + ".m3u8". The variant the session currently
// selects, when current >= 0, is listed first so that players that start on
// the first entry begin there.
func BuildMasterPlaylist(bitrates []float64, current int, uriPrefix string) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	order := make([]int, 0, len(bitrates))
	if current >= 0 && current < len(bitrates) {
		order = append(order, current)
	}
	for i := range bitrates {
		if i != current {
			order = append(order, i)
		}
	}
	for _, i := range order {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d\n", int64(bitrates[i]))
		fmt.Fprintf(&b, "%s%d.m3u8\n", uriPrefix, i)
	}
	return b.String()
}
