package httpconn

import (
	"bytes"
	"strconv"
)

// Result is the outcome of feeding bytes to a Parser.
type Result int

const (
	// Incomplete means more bytes are needed.
	Incomplete Result = iota
	// Complete means a whole request has been parsed.
	Complete
	// Malformed means the request can never be parsed, the connection must answer 400 and close.
	Malformed
)

func (r Result) String() string {
	switch r {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Malformed:
		return "malformed"
	}
	return "Result(" + strconv.Itoa(int(r)) + ")"
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateDone
)

// Request holds the fields recognized by the parser.
type Request struct {
	Method        string
	Target        string // origin form, query included
	Version       string
	Host          string
	ContentLength int64
	KeepAlive     bool
	Body          []byte // aliases the read buffer until Reset
}

// Parser incrementally parses one request at a time out of its Buffer.
type Parser struct {
	buf    *Buffer
	state  parseState
	req    Request
	bareLF bool
	bad    bool
}

// NewParser returns a parser whose buffer holds at most capacity bytes.
func NewParser(capacity int) *Parser {
	return &Parser{buf: NewBuffer(capacity)}
}

// AllowBareLF makes a lone LF a valid line terminator.
func (p *Parser) AllowBareLF(v bool) { p.bareLF = v }

// Buffer exposes the read buffer so callers can read from a socket straight into it.
func (p *Parser) Buffer() *Buffer { return p.buf }

// Request returns the parsed request, valid once Complete has been reported.
func (p *Parser) Request() *Request { return &p.req }

// Buffered is the number of received bytes not yet parsed.
func (p *Parser) Buffered() int { return len(p.buf.Pending()) }

// Feed appends data and advances the state machine.
// Data that does not fit in the buffer makes the request Malformed.
func (p *Parser) Feed(data []byte) Result {
	if p.bad {
		return Malformed
	}
	if k := p.buf.Write(data); k < len(data) {
		return p.fail()
	}
	return p.Advance()
}

// Advance parses as far as the buffered bytes allow.
func (p *Parser) Advance() Result {
	if p.bad {
		return Malformed
	}
	for {
		switch p.state {
		case stateRequestLine, stateHeaders:
			status, line := p.buf.ScanLine(p.bareLF)
			switch status {
			case LineBad:
				return p.fail()
			case LineOpen:
				if p.buf.Full() {
					return p.fail()
				}
				return Incomplete
			}
			if p.state == stateRequestLine {
				if !p.parseRequestLine(line) {
					return p.fail()
				}
				p.state = stateHeaders
				continue
			}
			if len(line) > 0 {
				if !p.parseHeader(line) {
					return p.fail()
				}
				continue
			}
			if p.req.ContentLength == 0 {
				p.state = stateDone
				return Complete
			}
			if p.req.ContentLength > int64(p.buf.Cap()-p.buf.Start()) {
				return p.fail()
			}
			p.state = stateBody
		case stateBody:
			pending := p.buf.Pending()
			if int64(len(pending)) < p.req.ContentLength {
				if p.buf.Full() {
					return p.fail()
				}
				return Incomplete
			}
			p.req.Body = pending[:p.req.ContentLength]
			p.buf.Consume(int(p.req.ContentLength))
			p.state = stateDone
			return Complete
		case stateDone:
			return Complete
		}
	}
}

// Reset prepares for the next request on the same connection,
// pipelined bytes already received are kept.
func (p *Parser) Reset() {
	p.buf.Discard()
	p.state = stateRequestLine
	p.req = Request{}
	p.bad = false
}

func (p *Parser) fail() Result {
	p.bad = true
	return Malformed
}

func isBlank(c rune) bool { return c == ' ' || c == '\t' }

func (p *Parser) parseRequestLine(line []byte) bool {
	fields := bytes.FieldsFunc(line, isBlank)
	if len(fields) != 3 {
		return false
	}
	if !bytes.EqualFold(fields[0], []byte("GET")) {
		return false
	}
	if !bytes.EqualFold(fields[2], []byte("HTTP/1.1")) {
		return false
	}
	target, ok := originForm(fields[1])
	if !ok {
		return false
	}
	p.req.Method = "GET"
	p.req.Version = "HTTP/1.1"
	p.req.Target = string(target)
	return true
}

// originForm strips the scheme and authority of an absolute target.
func originForm(target []byte) ([]byte, bool) {
	for _, scheme := range [...]string{"http://", "https://"} {
		if len(target) >= len(scheme) && bytes.EqualFold(target[:len(scheme)], []byte(scheme)) {
			i := bytes.IndexByte(target[len(scheme):], '/')
			if i < 0 {
				return nil, false
			}
			target = target[len(scheme)+i:]
			break
		}
	}
	if len(target) == 0 || target[0] != '/' {
		return nil, false
	}
	return target, true
}

func (p *Parser) parseHeader(line []byte) bool {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return false
	}
	name := bytes.TrimSpace(line[:i])
	value := bytes.TrimSpace(line[i+1:])
	switch {
	case bytes.EqualFold(name, []byte("Host")):
		p.req.Host = string(value)
	case bytes.EqualFold(name, []byte("Content-Length")):
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil || n < 0 {
			return false
		}
		p.req.ContentLength = n
	case bytes.EqualFold(name, []byte("Connection")):
		p.req.KeepAlive = bytes.EqualFold(value, []byte("keep-alive"))
	}
	return true
}
