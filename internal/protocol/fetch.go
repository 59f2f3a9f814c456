package protocol

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/objects"
)

// Band numbers of the side-band protocol.
const (
	bandData     = 1
	bandProgress = 2
	bandError    = 3
)

// FetchRequest describes one want/have negotiation.
type FetchRequest struct {
	Wants []objects.ID
	// Haves are objects the client already has. Empty for a clone.
	Haves []objects.ID
	// Capabilities advertised by the server, used to pick what to request.
	Capabilities Capabilities
}

// requestCapabilities picks the capabilities to send on the first want
// line, restricted to what the server advertised.
func (r FetchRequest) requestCapabilities(agent string) []string {
	var caps []string
	switch {
	case r.Capabilities.Supports("side-band-64k"):
		caps = append(caps, "side-band-64k")
	case r.Capabilities.Supports("side-band"):
		caps = append(caps, "side-band")
	}
	if r.Capabilities.Supports("ofs-delta") {
		caps = append(caps, "ofs-delta")
	}
	if len(r.Haves) > 0 && r.Capabilities.Supports("thin-pack") {
		caps = append(caps, "thin-pack")
	}
	if r.Capabilities.Supports("agent") {
		caps = append(caps, "agent="+agent)
	}
	return caps
}

// encode writes the upload-pack request body: wants, flush, haves, done.
func (r FetchRequest) encode(w io.Writer, caps []string) error {
	enc := NewEncoder(w)
	seen := make(map[objects.ID]struct{}, len(r.Wants))
	first := true
	for _, id := range r.Wants {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		line := "want " + id.String()
		if first && len(caps) > 0 {
			line += " " + strings.Join(caps, " ")
		}
		first = false
		if err := enc.Encodef("%s\n", line); err != nil {
			return err
		}
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	for _, id := range r.Haves {
		if err := enc.Encodef("have %s\n", id); err != nil {
			return err
		}
	}
	return enc.Encodef("done\n")
}

// Fetch negotiates with the server and returns a reader over the raw pack
// stream. The caller must close it.
func (c *Client) Fetch(ctx context.Context, rawURL string, req FetchRequest) (io.ReadCloser, error) {
	if len(req.Wants) == 0 {
		return nil, errors.Errorf(errors.ErrProtocol, "fetch without wants")
	}
	u, err := endpoint(rawURL)
	if err != nil {
		return nil, err
	}
	uploadPack := *u
	uploadPack.Path += "/" + uploadPackService

	// one negotiation round: everything is sent at once, followed by done
	if err := errors.FromContext(ctx); err != nil {
		return nil, err
	}
	caps := req.requestCapabilities(c.userAgent())
	var body bytes.Buffer
	if err := req.encode(&body, caps); err != nil {
		return nil, errors.E(errors.ErrProtocol, err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, uploadPack.String(), &body)
	if err != nil {
		return nil, errors.E(errors.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-"+uploadPackService+"-request")
	httpReq.Header.Set("Accept", "application/x-"+uploadPackService+"-result")
	c.logger().Debug("negotiating pack",
		zap.String("url", redact(u)),
		zap.Int("wants", len(req.Wants)),
		zap.Int("haves", len(req.Haves)),
		zap.Strings("capabilities", caps),
	)
	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(&ctxReader{ctx: ctx, r: resp.Body})
	dec := NewDecoder(br)
	if err := readAcknowledgements(dec); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	stream := &packStream{body: resp.Body}
	if contains(caps, "side-band-64k") || contains(caps, "side-band") {
		stream.r = &sidebandReader{dec: dec, logger: c.logger()}
	} else {
		stream.r = br
	}
	return stream, nil
}

// readAcknowledgements consumes the ACK/NAK lines that precede the pack.
// Without multi_ack the server sends one NAK or one ACK; with it, any
// number of "ACK <id> <status>" lines end with a plain ACK or NAK.
func readAcknowledgements(dec *Decoder) error {
	for {
		payload, flush, err := dec.Next()
		if err != nil {
			if err == io.EOF {
				return errors.Errorf(errors.ErrProtocol, "upload-pack response ended before the pack")
			}
			return err
		}
		if flush {
			continue
		}
		line := strings.TrimSuffix(string(payload), "\n")
		switch {
		case line == "NAK":
			return nil
		case strings.HasPrefix(line, "ACK "):
			if fields := strings.Fields(line); len(fields) == 2 {
				return nil
			}
		case strings.HasPrefix(line, "ERR "):
			return errors.Errorf(errors.ErrProtocol, "remote error: %s", strings.TrimPrefix(line, "ERR "))
		default:
			return errors.Errorf(errors.ErrProtocol, "unexpected negotiation line %q", line)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type packStream struct {
	r    io.Reader
	body io.Closer
}

func (s *packStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *packStream) Close() error {
	return s.body.Close()
}

// sidebandReader demultiplexes band 1 pack data from progress and error
// messages.
type sidebandReader struct {
	dec     *Decoder
	pending []byte
	done    bool
	logger  *zap.Logger
}

func (s *sidebandReader) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		if s.done {
			return 0, io.EOF
		}
		payload, flush, err := s.dec.Next()
		if err != nil {
			if err == io.EOF {
				s.done = true
				continue
			}
			return 0, err
		}
		if flush {
			s.done = true
			continue
		}
		if len(payload) == 0 {
			continue
		}
		switch payload[0] {
		case bandData:
			s.pending = append(s.pending[:0], payload[1:]...)
		case bandProgress:
			s.logger.Debug("remote", zap.String("progress", strings.TrimSpace(string(payload[1:]))))
		case bandError:
			return 0, errors.Errorf(errors.ErrProtocol, "remote error: %s", strings.TrimSpace(string(payload[1:])))
		default:
			return 0, errors.Errorf(errors.ErrProtocol, "invalid side-band %d", payload[0])
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}
