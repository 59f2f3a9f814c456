package testutil

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/master-wayne7/gitpure/internal/objects"
)

// RepoPath is the path the server exposes its repository under.
const RepoPath = "/repo.git"

// ServerOptions alter how the fake server behaves.
type ServerOptions struct {
	// NoSideband omits side-band capabilities; the pack is sent raw.
	NoSideband bool
	// NoSymref omits the symref=HEAD capability.
	NoSymref bool
	// Pack replaces the pack generated from the fixture.
	Pack []byte
	// Stall sends half of the pack, closes Started and then blocks until
	// the client goes away.
	Stall bool
	// RefsStatus, when set, is returned for the discovery request.
	RefsStatus int
	// Dumb answers discovery the way a dumb HTTP server would.
	Dumb bool
	// RemoteError is sent on the error band instead of a pack.
	RemoteError string
}

// Server is an httptest server speaking the smart HTTP protocol for a
// fixture repository.
type Server struct {
	*httptest.Server
	Repo    *Repo
	Opts    ServerOptions
	Started chan struct{}

	mu          sync.Mutex
	wants       []string
	haves       []string
	requestCaps []string
	uploads     int
	startOnce   sync.Once
}

// NewServer starts a server for repo; it is closed when the test ends.
func NewServer(t testing.TB, repo *Repo, opts ServerOptions) *Server {
	s := &Server{Repo: repo, Opts: opts, Started: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc(RepoPath+"/info/refs", s.infoRefs)
	mux.HandleFunc(RepoPath+"/git-upload-pack", s.uploadPack)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// RepoURL is the clone URL of the fixture repository.
func (s *Server) RepoURL() string {
	return s.Server.URL + RepoPath
}

// Wants returns the ids requested by the last upload-pack request.
func (s *Server) Wants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.wants...)
}

// Haves returns the ids the client declared in the last request.
func (s *Server) Haves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.haves...)
}

// RequestCaps returns the capabilities sent on the first want line.
func (s *Server) RequestCaps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestCaps...)
}

// Uploads counts upload-pack requests served.
func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

func pkt(w io.Writer, payload string) {
	fmt.Fprintf(w, "%04x%s", len(payload)+4, payload)
}

func (s *Server) capabilities() string {
	caps := []string{"multi_ack", "thin-pack", "ofs-delta", "agent=git/2.test"}
	if !s.Opts.NoSideband {
		caps = append(caps, "side-band", "side-band-64k")
	}
	if !s.Opts.NoSymref && s.Repo.HeadTarget != "" {
		caps = append(caps, "symref=HEAD:"+s.Repo.HeadTarget)
	}
	return strings.Join(caps, " ")
}

func (s *Server) infoRefs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("service") != "git-upload-pack" {
		http.Error(w, "service required", http.StatusForbidden)
		return
	}
	if s.Opts.RefsStatus != 0 {
		http.Error(w, http.StatusText(s.Opts.RefsStatus), s.Opts.RefsStatus)
		return
	}

	names := make([]string, 0, len(s.Repo.Refs))
	for name := range s.Repo.Refs {
		names = append(names, name)
	}
	sort.Strings(names)

	if s.Opts.Dumb {
		w.Header().Set("Content-Type", "text/plain")
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%s\n", s.Repo.Refs[name], name)
		}
		return
	}

	w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
	pkt(w, "# service=git-upload-pack\n")
	_, _ = io.WriteString(w, "0000")

	caps := s.capabilities()
	first := true
	line := func(id objects.ID, name string) {
		if first {
			pkt(w, id.String()+" "+name+"\x00"+caps+"\n")
			first = false
			return
		}
		pkt(w, id.String()+" "+name+"\n")
	}
	if head, ok := s.Repo.Refs[s.Repo.HeadTarget]; ok {
		line(head, "HEAD")
	}
	for _, name := range names {
		id := s.Repo.Refs[name]
		line(id, name)
		if obj, ok := s.Repo.byID[id]; ok && obj.Type == objects.TypeTag {
			if peeled, _, err := objects.ParseTagTarget(obj.Data); err == nil {
				pkt(w, peeled.String()+" "+name+"^{}\n")
			}
		}
	}
	if first {
		line(objects.ZeroID, "capabilities^{}")
	}
	_, _ = io.WriteString(w, "0000")
}

func (s *Server) readRequest(body io.Reader) error {
	br := bufio.NewReader(body)
	var wants, haves, caps []string
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		n, err := strconv.ParseUint(string(lenBuf[:]), 16, 16)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		payload := make([]byte, n-4)
		if _, err := io.ReadFull(br, payload); err != nil {
			return err
		}
		line := strings.TrimSuffix(string(payload), "\n")
		switch {
		case strings.HasPrefix(line, "want "):
			fields := strings.Fields(strings.TrimPrefix(line, "want "))
			wants = append(wants, fields[0])
			if len(wants) == 1 {
				caps = fields[1:]
			}
		case strings.HasPrefix(line, "have "):
			haves = append(haves, strings.TrimPrefix(line, "have "))
		case line == "done":
		}
	}
	s.mu.Lock()
	s.wants, s.haves, s.requestCaps = wants, haves, caps
	s.uploads++
	s.mu.Unlock()
	return nil
}

func (s *Server) uploadPack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if err := s.readRequest(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := s.Opts.Pack
	if data == nil {
		data = s.Repo.Pack()
	}

	band := 0
	for _, c := range s.RequestCaps() {
		switch c {
		case "side-band-64k":
			band = 65515
		case "side-band":
			if band == 0 {
				band = 995
			}
		}
	}

	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
	pkt(w, "NAK\n")

	if band == 0 {
		_, _ = w.Write(data)
		return
	}

	pkt(w, "\x02Enumerating objects: done.\n")
	if s.Opts.RemoteError != "" {
		pkt(w, "\x03"+s.Opts.RemoteError)
		return
	}
	if s.Opts.Stall {
		pkt(w, "\x01"+string(data[:len(data)/2]))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		s.startOnce.Do(func() { close(s.Started) })
		<-r.Context().Done()
		return
	}
	for len(data) > 0 {
		chunk := data
		if len(chunk) > band {
			chunk = chunk[:band]
		}
		pkt(w, "\x01"+string(chunk))
		data = data[len(chunk):]
	}
	_, _ = io.WriteString(w, "0000")
}
