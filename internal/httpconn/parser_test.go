package httpconn

import (
	"strings"
	"testing"

	"github.com/antlabs/httparser"
)

const keepAliveReq = "GET /hi.html HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n"

func feedAll(p *Parser, chunks ...string) Result {
	res := Incomplete
	for _, c := range chunks {
		if res = p.Feed([]byte(c)); res != Incomplete {
			return res
		}
	}
	return res
}

func TestParserComplete(t *testing.T) {
	p := NewParser(2048)
	if res := p.Feed([]byte(keepAliveReq)); res != Complete {
		t.Fatalf("Feed = %v, want complete", res)
	}
	req := p.Request()
	if req.Method != "GET" || req.Target != "/hi.html" || req.Version != "HTTP/1.1" {
		t.Fatalf("request line parsed as %+v", req)
	}
	if req.Host != "example.com" || !req.KeepAlive {
		t.Fatalf("headers parsed as %+v", req)
	}
}

func TestParserChunkInvariance(t *testing.T) {
	reqs := []string{
		keepAliveReq,
		"GET /missing HTTP/1.1\r\n\r\n",
		"GET /a HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
		"GET /a HTTP/1.1\r\nX-Junk\r\n\r\n",
		"POST /a HTTP/1.1\r\n\r\n",
	}
	for _, raw := range reqs {
		whole := NewParser(2048)
		want := whole.Feed([]byte(raw))
		wantReq := *whole.Request()

		for split := 1; split < len(raw); split++ {
			p := NewParser(2048)
			got := feedAll(p, raw[:split], raw[split:])
			if got != want {
				t.Fatalf("%q split at %d: %v, want %v", raw, split, got, want)
			}
			if want == Complete {
				r := p.Request()
				if r.Target != wantReq.Target || r.Host != wantReq.Host ||
					r.KeepAlive != wantReq.KeepAlive || string(r.Body) != string(wantReq.Body) {
					t.Fatalf("%q split at %d: %+v, want %+v", raw, split, *r, wantReq)
				}
			}
		}

		p := NewParser(2048)
		res := Incomplete
		for i := 0; i < len(raw) && res == Incomplete; i++ {
			res = p.Feed([]byte{raw[i]})
		}
		if res != want {
			t.Fatalf("%q byte by byte: %v, want %v", raw, res, want)
		}
	}
}

func TestParserMalformedRequestLine(t *testing.T) {
	lines := []string{
		"GET\r\n",
		"GET/index.htmlHTTP/1.1\r\n",
		"POST / HTTP/1.1\r\n",
		"GET / HTTP/1.0\r\n",
		"GET / HTTP/1.1 extra\r\n",
		"GET index.html HTTP/1.1\r\n",
		"GET http://host HTTP/1.1\r\n",
		"GET / HTTP/1.1\n",
	}
	for _, line := range lines {
		p := NewParser(2048)
		if res := p.Feed([]byte(line)); res != Malformed {
			t.Errorf("%q: %v, want malformed", line, res)
		}
		if res := p.Feed([]byte("\r\n")); res != Malformed {
			t.Errorf("%q: malformed state not sticky", line)
		}
	}
}

func TestParserMalformedHeaders(t *testing.T) {
	reqs := []string{
		"GET / HTTP/1.1\r\nNoColon\r\n\r\n",
		"GET / HTTP/1.1\r\nContent-Length: -1\r\n\r\n",
		"GET / HTTP/1.1\r\nContent-Length: ten\r\n\r\n",
		"GET / HTTP/1.1\r\n: empty\r\n\r\n",
	}
	for _, raw := range reqs {
		if res := NewParser(2048).Feed([]byte(raw)); res != Malformed {
			t.Errorf("%q: %v, want malformed", raw, res)
		}
	}
}

func TestParserLenientForms(t *testing.T) {
	p := NewParser(2048)
	if res := p.Feed([]byte("get  http://example.com/x?y=1\thttp/1.1\r\nconnection: Keep-Alive\r\n\r\n")); res != Complete {
		t.Fatalf("Feed = %v", res)
	}
	req := p.Request()
	if req.Target != "/x?y=1" || !req.KeepAlive || req.Method != "GET" {
		t.Fatalf("parsed %+v", req)
	}

	p = NewParser(2048)
	if res := p.Feed([]byte("GET HTTPS://example.com/y HTTP/1.1\r\n\r\n")); res != Complete || p.Request().Target != "/y" {
		t.Fatalf("https absolute form: %v %+v", res, p.Request())
	}

	p = NewParser(2048)
	p.AllowBareLF(true)
	if res := p.Feed([]byte("GET / HTTP/1.1\nHost: a\n\n")); res != Complete || p.Request().Host != "a" {
		t.Fatalf("bare LF: %v %+v", res, p.Request())
	}
}

func TestParserBodyCompletesOnLastByte(t *testing.T) {
	const n = 10
	p := NewParser(2048)
	head := "GET /a HTTP/1.1\r\nContent-Length: 10\r\n\r\n"
	if res := p.Feed([]byte(head)); res != Incomplete {
		t.Fatalf("headers only: %v", res)
	}
	body := strings.Repeat("b", n)
	for i := 0; i < n-1; i++ {
		if res := p.Feed([]byte{body[i]}); res != Incomplete {
			t.Fatalf("byte %d of body: %v", i, res)
		}
	}
	if res := p.Feed([]byte{body[n-1]}); res != Complete {
		t.Fatalf("last byte of body: %v", res)
	}
	if string(p.Request().Body) != body {
		t.Fatalf("body = %q", p.Request().Body)
	}
}

func TestParserCapacity(t *testing.T) {
	p := NewParser(32)
	if res := p.Feed([]byte("GET /" + strings.Repeat("a", 40))); res != Malformed {
		t.Fatalf("overlong request line: %v", res)
	}

	p = NewParser(32)
	if res := p.Feed([]byte("GET / HTTP/1.1\r\n")); res != Incomplete {
		t.Fatalf("request line: %v", res)
	}
	if res := p.Feed([]byte("Host: 0123456789a")); res != Malformed {
		t.Fatalf("filling buffer without terminator: %v", res)
	}

	p = NewParser(64)
	if res := p.Feed([]byte("GET / HTTP/1.1\r\nContent-Length: 100\r\n\r\n")); res != Malformed {
		t.Fatalf("body larger than buffer: %v", res)
	}
}

func TestParserPipelined(t *testing.T) {
	p := NewParser(2048)
	raw := "GET /one HTTP/1.1\r\nConnection: keep-alive\r\n\r\nGET /two HTTP/1.1\r\n\r\nGET /thr"
	if res := p.Feed([]byte(raw)); res != Complete || p.Request().Target != "/one" {
		t.Fatalf("first: %v %+v", res, p.Request())
	}
	p.Reset()
	if res := p.Advance(); res != Complete || p.Request().Target != "/two" {
		t.Fatalf("second: %v %+v", res, p.Request())
	}
	p.Reset()
	if res := p.Advance(); res != Incomplete {
		t.Fatalf("third, partial: %v", res)
	}
	if p.Buffered() != len("GET /thr") {
		t.Fatalf("buffered %d", p.Buffered())
	}
	if res := p.Feed([]byte("ee HTTP/1.1\r\n\r\n")); res != Complete || p.Request().Target != "/three" {
		t.Fatalf("third: %v %+v", res, p.Request())
	}
}

// Every request the parser accepts is a valid HTTP/1.1 request to an independent parser.
func TestParserAgreesWithReference(t *testing.T) {
	reqs := []string{
		keepAliveReq,
		"GET /missing HTTP/1.1\r\n\r\n",
		"GET /a HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello",
		"GET /x?y=1 HTTP/1.1\r\nAccept: */*\r\nUser-Agent: t\r\n\r\n",
	}
	for _, raw := range reqs {
		p := NewParser(2048)
		if res := p.Feed([]byte(raw)); res != Complete {
			t.Fatalf("%q: %v", raw, res)
		}

		ref := httparser.New(httparser.REQUEST)
		var setting httparser.Setting
		n, err := ref.Execute(&setting, []byte(raw))
		if err != nil {
			t.Fatalf("reference parser rejected %q: %v", raw, err)
		}
		if n != len(raw) {
			t.Fatalf("reference parser consumed %d of %d bytes of %q", n, len(raw), raw)
		}
	}
}
