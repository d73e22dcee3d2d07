// Command client opens many keep-alive connections to a server and tallies the status codes.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:8848", "server address")
		path    = flag.String("path", "/index.html", "request target")
		conns   = flag.Int("conns", 100, "number of connections")
		rounds  = flag.Int("rounds", 10, "requests per connection")
		timeout = flag.Duration("timeout", 5*time.Second, "per-request deadline")
	)
	flag.Parse()

	var (
		mu    sync.Mutex
		tally = make(map[int]int)
	)
	record := func(code int) {
		mu.Lock()
		tally[code]++
		mu.Unlock()
	}

	begin := time.Now()
	var g errgroup.Group
	for i := 0; i < *conns; i++ {
		g.Go(func() error {
			return hammer(*addr, *path, *rounds, *timeout, record)
		})
	}
	err := g.Wait()
	elapsed := time.Since(begin)

	codes := make([]int, 0, len(tally))
	total := 0
	for code, n := range tally {
		codes = append(codes, code)
		total += n
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("%d: %d\n", code, tally[code])
	}
	fmt.Printf("%d responses in %v (%.0f req/s)\n", total, elapsed, float64(total)/elapsed.Seconds())
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}

// hammer sends rounds requests on one connection, reconnecting when the server closes it.
func hammer(addr, path string, rounds int, timeout time.Duration, record func(int)) error {
	var (
		c  net.Conn
		br *bufio.Reader
	)
	defer func() {
		if c != nil {
			c.Close()
		}
	}()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(path)
	req.Header.SetHost(addr)
	req.Header.Set("Connection", "keep-alive")

	for i := 0; i < rounds; i++ {
		if c == nil {
			var err error
			if c, err = net.DialTimeout("tcp", addr, timeout); err != nil {
				return err
			}
			br = bufio.NewReader(c)
		}
		_ = c.SetDeadline(time.Now().Add(timeout))

		bw := bufio.NewWriter(c)
		if err := req.Write(bw); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		resp.Reset()
		if err := resp.Read(br); err != nil {
			return err
		}
		record(resp.StatusCode())
		if resp.ConnectionClose() {
			c.Close()
			c = nil
		}
	}
	return nil
}
