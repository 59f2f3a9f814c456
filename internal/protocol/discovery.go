package protocol

import (
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/objects"
)

const (
	headRef       = "HEAD"
	branchPrefix  = "refs/heads/"
	peeledSuffix  = "^{}"
	noRefsMarker  = "capabilities^{}"
	serviceHeader = "# service=" + uploadPackService
)

// Ref is one advertised reference.
type Ref struct {
	Name string
	ID   objects.ID
	// Peeled is the object an annotated tag points at, when advertised.
	Peeled objects.ID
}

// Capabilities is the server's capability list.
type Capabilities []string

// Supports reports whether the capability name is advertised, with or
// without a value.
func (c Capabilities) Supports(name string) bool {
	for _, capability := range c {
		if capability == name || strings.HasPrefix(capability, name+"=") {
			return true
		}
	}
	return false
}

// Value returns the value of the first name=value capability.
func (c Capabilities) Value(name string) (string, bool) {
	for _, capability := range c {
		if v, ok := strings.CutPrefix(capability, name+"="); ok {
			return v, true
		}
	}
	return "", false
}

// Symref returns the target of a symref=<from>:<to> capability.
func (c Capabilities) Symref(from string) (string, bool) {
	for _, capability := range c {
		v, ok := strings.CutPrefix(capability, "symref=")
		if !ok {
			continue
		}
		if src, dst, ok := strings.Cut(v, ":"); ok && src == from {
			return dst, true
		}
	}
	return "", false
}

// Advertisement is the result of reference discovery.
type Advertisement struct {
	Refs         []Ref
	Capabilities Capabilities
	// Head is the id HEAD resolves to on the server; zero when absent.
	Head objects.ID
}

// Branches returns the advertised refs/heads/* refs.
func (a *Advertisement) Branches() []Ref {
	var out []Ref
	for _, r := range a.Refs {
		if strings.HasPrefix(r.Name, branchPrefix) {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the ref with the given name.
func (a *Advertisement) Find(name string) (Ref, bool) {
	for _, r := range a.Refs {
		if r.Name == name {
			return r, true
		}
	}
	return Ref{}, false
}

// IsEmpty reports whether the remote has no refs at all.
func (a *Advertisement) IsEmpty() bool {
	return len(a.Refs) == 0 && a.Head.IsZero()
}

// DefaultBranch picks the branch a clone checks out: the symref target of
// HEAD, else the branch HEAD's id matches, else main, master or the first
// branch.
func (a *Advertisement) DefaultBranch() (Ref, bool) {
	if target, ok := a.Capabilities.Symref(headRef); ok {
		if r, ok := a.Find(target); ok {
			return r, true
		}
	}
	branches := a.Branches()
	if !a.Head.IsZero() {
		for _, r := range branches {
			if r.ID == a.Head {
				return r, true
			}
		}
	}
	for _, name := range []string{branchPrefix + "main", branchPrefix + "master"} {
		if r, ok := a.Find(name); ok {
			return r, true
		}
	}
	if len(branches) > 0 {
		return branches[0], true
	}
	return Ref{}, false
}

// Discover fetches the reference advertisement of the repository at rawURL.
func (c *Client) Discover(ctx context.Context, rawURL string) (*Advertisement, error) {
	u, err := endpoint(rawURL)
	if err != nil {
		return nil, err
	}
	infoRefs := *u
	infoRefs.Path += "/info/refs"
	infoRefs.RawQuery = "service=" + uploadPackService

	req, err := http.NewRequest(http.MethodGet, infoRefs.String(), nil)
	if err != nil {
		return nil, errors.E(errors.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/x-"+uploadPackService+"-advertisement, */*")
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	adv, err := ParseAdvertisement(&ctxReader{ctx: ctx, r: resp.Body})
	if err != nil {
		return nil, err
	}
	c.logger().Debug("discovered refs",
		zap.String("url", redact(u)),
		zap.Int("refs", len(adv.Refs)),
		zap.Strings("capabilities", adv.Capabilities),
	)
	return adv, nil
}

// ParseAdvertisement decodes a smart HTTP info/refs response body.
func ParseAdvertisement(r io.Reader) (*Advertisement, error) {
	dec := NewDecoder(r)

	payload, flush, err := dec.Next()
	if err != nil {
		if err == io.EOF {
			return nil, errors.Errorf(errors.ErrProtocol, "empty reference advertisement")
		}
		return nil, notSmart(err)
	}
	if flush || strings.TrimSuffix(string(payload), "\n") != serviceHeader {
		return nil, errors.Errorf(errors.ErrProtocol, "server does not speak the smart HTTP protocol")
	}
	// the service header is followed by a flush
	_, flush, err = dec.Next()
	switch {
	case err == io.EOF, err == nil && !flush:
		return nil, errors.Errorf(errors.ErrProtocol, "missing flush after service header")
	case err != nil:
		return nil, err
	}

	adv := &Advertisement{}
	first := true
	for {
		payload, flush, err := dec.Next()
		if err != nil {
			if err == io.EOF {
				return nil, errors.Errorf(errors.ErrProtocol, "reference advertisement ended without flush")
			}
			return nil, err
		}
		if flush {
			break
		}
		line := strings.TrimSuffix(string(payload), "\n")
		if first {
			first = false
			var caps string
			line, caps, _ = strings.Cut(line, "\x00")
			adv.Capabilities = strings.Fields(caps)
		}
		if err := adv.addLine(line); err != nil {
			return nil, err
		}
	}
	return adv, nil
}

func (a *Advertisement) addLine(line string) error {
	hex, name, ok := strings.Cut(line, " ")
	if !ok || name == "" {
		return errors.Errorf(errors.ErrProtocol, "malformed ref line %q", line)
	}
	id, err := objects.ParseID(hex)
	if err != nil {
		return errors.E(errors.ErrProtocol, err)
	}
	switch {
	case name == noRefsMarker:
	case name == headRef:
		a.Head = id
	case strings.HasSuffix(name, peeledSuffix):
		base := strings.TrimSuffix(name, peeledSuffix)
		for i := range a.Refs {
			if a.Refs[i].Name == base {
				a.Refs[i].Peeled = id
			}
		}
	default:
		a.Refs = append(a.Refs, Ref{Name: name, ID: id})
	}
	return nil
}

// notSmart turns a pkt-line framing error on the first line into a clear
// message: dumb servers answer info/refs with plain text.
func notSmart(err error) error {
	if errors.Is(err, errors.ErrProtocol) {
		return errors.Wrap(err, "server does not speak the smart HTTP protocol")
	}
	return err
}
