package httpconn

import (
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

// Status is the subset of HTTP status codes the server answers with.
type Status int

// Status codes.
const (
	StatusOK            Status = 200
	StatusBadRequest    Status = 400
	StatusForbidden     Status = 403
	StatusNotFound      Status = 404
	StatusInternalError Status = 500
)

// Title is the reason phrase of the status line.
func (s Status) Title() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusForbidden:
		return "Forbidden"
	case StatusNotFound:
		return "Not Found"
	}
	return "Internal Error"
}

// Form is the explanatory body sent with an error status.
func (s Status) Form() string {
	switch s {
	case StatusOK:
		return ""
	case StatusBadRequest:
		return "Your request has bad syntax or is inherently impossible to satisfy.\n"
	case StatusForbidden:
		return "You do not have permission to get file from this server.\n"
	case StatusNotFound:
		return "The requested file was not found on this server.\n"
	}
	return "There was an unusual problem serving the requested file.\n"
}

// Output is a response ready for a gather write: a header block, followed by
// the mapped file when the response carries one.
type Output struct {
	head      *bytebufferpool.ByteBuffer
	body      []byte
	status    Status
	keepAlive bool
	sent      int
	segs      [2][]byte
}

// Status is the response status code.
func (o *Output) Status() Status { return o.status }

// KeepAlive reports whether the connection stays open once the output is written.
func (o *Output) KeepAlive() bool { return o.keepAlive }

// Len is the total number of bytes of the response.
func (o *Output) Len() int { return len(o.head.B) + len(o.body) }

// Remaining is the number of bytes still to be written.
func (o *Output) Remaining() int { return o.Len() - o.sent }

// Done reports whether every byte has been written.
func (o *Output) Done() bool { return o.sent >= o.Len() }

// Segments returns the unwritten part of the response, one or two segments.
func (o *Output) Segments() [][]byte {
	head := o.head.B
	if o.sent < len(head) {
		o.segs[0] = head[o.sent:]
		if len(o.body) == 0 {
			return o.segs[:1]
		}
		o.segs[1] = o.body
		return o.segs[:2]
	}
	o.segs[0] = o.body[o.sent-len(head):]
	return o.segs[:1]
}

// Advance records n more bytes as written.
func (o *Output) Advance(n int) {
	o.sent += n
	if o.sent > o.Len() {
		o.sent = o.Len()
	}
}

// Send gathers the remaining segments onto fd until everything is written
// or the socket would block, in which case unix.EAGAIN is returned.
func (o *Output) Send(fd int) (total int, err error) {
	for !o.Done() {
		var n int
		n, err = unix.Writev(fd, o.Segments())
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return
		}
		o.Advance(n)
		total += n
	}
	return total, nil
}

// Release returns the header block to its pool and unmaps the file.
// The output must not be used afterwards.
func (o *Output) Release() {
	if o.head != nil {
		bytebufferpool.Put(o.head)
		o.head = nil
	}
	if o.body != nil {
		unmapFile(o.body)
		o.body = nil
	}
}

// Assembler turns parse results into responses for files under a document root.
type Assembler struct {
	root string
}

// NewAssembler serves files below root.
func NewAssembler(root string) *Assembler {
	return &Assembler{root: root}
}

// Root is the document root.
func (a *Assembler) Root() string { return a.root }

// Resolve maps a request target onto a file name below the document root.
// The query and fragment are ignored and dot segments cannot climb above the root.
func (a *Assembler) Resolve(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	return filepath.Join(a.root, filepath.FromSlash(path.Clean("/"+target)))
}

// Build answers res. req is only consulted when res is Complete.
func (a *Assembler) Build(res Result, req *Request) *Output {
	if res != Complete || req == nil {
		return newOutput(StatusBadRequest, nil, false)
	}
	body, status := mapFile(a.Resolve(req.Target))
	return newOutput(status, body, req.KeepAlive)
}

func newOutput(status Status, body []byte, keepAlive bool) *Output {
	o := &Output{
		head:      bytebufferpool.Get(),
		body:      body,
		status:    status,
		keepAlive: keepAlive && status != StatusBadRequest,
	}
	form := status.Form()
	size := len(body)
	if status != StatusOK {
		size = len(form)
	}

	b := o.head.B
	b = append(b, "HTTP/1.1 "...)
	b = strconv.AppendInt(b, int64(status), 10)
	b = append(b, ' ')
	b = append(b, status.Title()...)
	b = append(b, "\r\nContent-Length: "...)
	b = strconv.AppendInt(b, int64(size), 10)
	if o.keepAlive {
		b = append(b, "\r\nConnection: keep-alive\r\n\r\n"...)
	} else {
		b = append(b, "\r\nConnection: close\r\n\r\n"...)
	}
	b = append(b, form...)
	o.head.B = b
	return o
}
