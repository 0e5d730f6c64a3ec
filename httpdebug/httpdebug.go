// Package httpdebug exposes a /debug/pprof-style HTTP surface serving
// both the sampler's own profile (the "guest": the managed runtime being
// profiled) and the rtprof process's own Go profiles (the "host"), side
// by side on one index page.
//
// Grounded directly on the teacher's pprof.go Index handler: the same
// guest/host table split, the same ?host query parameter selecting
// which table an href resolves against, and the same inline HTML
// template. There the guest table lists WASM profilers; here it lists
// the Source entries the caller registers (one per sampler mode).
package httpdebug

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"net/http"
	httpprof "net/http/pprof"
	"net/url"
	"runtime/pprof"
	"sort"
	"strings"

	"github.com/google/pprof/profile"
)

// Source is one on-demand guest profile the sampler can produce.
type Source struct {
	Name  string
	Desc  string
	Build func(r *http.Request) (*profile.Profile, error)
}

type entry struct {
	Name    string
	Href    string
	Desc    string
	Count   int
	Debug   int
	Handler http.Handler
}

// Index returns a handler serving the combined guest/host debug index at
// its own path, and each named profile beneath it (e.g.
// "/debug/pprof/wall" when a Source named "wall" is registered).
func Index(sources ...Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var guest, host []entry

		for _, src := range sources {
			src := src
			guest = append(guest, entry{
				Name: src.Name,
				Href: src.Name,
				Desc: src.Desc,
				Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					prof, err := src.Build(r)
					if err != nil {
						serveError(w, http.StatusInternalServerError, err.Error())
						return
					}
					serveProfile(w, prof)
				}),
			})
		}

		host = append(host,
			entry{Name: "cmdline", Href: "cmdline", Handler: http.HandlerFunc(httpprof.Cmdline), Debug: 1},
			entry{Name: "profile", Href: "profile", Handler: http.HandlerFunc(httpprof.Profile), Debug: 1},
			entry{Name: "trace", Href: "trace", Handler: http.HandlerFunc(httpprof.Trace), Debug: 1},
		)
		for _, p := range pprof.Profiles() {
			host = append(host, entry{
				Name:    p.Name(),
				Href:    p.Name(),
				Count:   p.Count(),
				Handler: httpprof.Handler(p.Name()),
				Debug:   1,
			})
		}

		if href, found := strings.CutPrefix(r.URL.Path, "/debug/pprof/"); found {
			_, queryHost := r.URL.Query()["host"]
			entries := guest
			if queryHost {
				entries = host
			}
			for _, e := range entries {
				if e.Href == href {
					e.Handler.ServeHTTP(w, r)
					return
				}
			}
		}

		sortEntries(guest)
		sortEntries(host)

		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Type", "text/html; charset=utf-8")
		if err := writeIndex(w, guest, host); err != nil {
			serveError(w, http.StatusInternalServerError, err.Error())
		}
	})
}

func sortEntries(entries []entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

func serveProfile(w http.ResponseWriter, prof *profile.Profile) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", `attachment; filename="profile"`)
	if err := prof.Write(w); err != nil {
		serveError(w, http.StatusInternalServerError, err.Error())
	}
}

func serveError(w http.ResponseWriter, status int, txt string) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Go-Pprof", "1")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Del("Content-Disposition")
	w.WriteHeader(status)
	fmt.Fprintln(w, txt)
}

func writeIndex(w io.Writer, guest, host []entry) error {
	var b bytes.Buffer
	b.WriteString(`<html>
<head>
<title>/debug/pprof</title>
<style>
.profile-name{
	display:inline-block;
	width:6rem;
}
</style>
</head>
<body>
/debug/pprof
<br>
<p>Set debug=1 as a query parameter to export in legacy text format (host only)</p>
<br>
Types of profiles available:
<table>
<thead><td>Count</td><td>Profile (runtime under profile)</td></thead>
`)
	for _, e := range guest {
		link := &url.URL{Path: e.Href}
		fmt.Fprintf(&b, "<tr><td>%d</td><td><a href='%s'>%s</a></td></tr>\n", e.Count, link, html.EscapeString(e.Name))
	}

	b.WriteString(`</table>
<table>
<thead><td>Count</td><td>Profile (rtprof process)</td></thead>
`)
	for _, e := range host {
		link := &url.URL{Path: e.Href, RawQuery: fmt.Sprintf("host&debug=%d", e.Debug)}
		fmt.Fprintf(&b, "<tr><td>%d</td><td><a href='%s'>%s</a></td></tr>\n", e.Count, link, html.EscapeString(e.Name))
	}
	b.WriteString("</table>\n</body>\n</html>\n")

	_, err := w.Write(b.Bytes())
	return err
}
