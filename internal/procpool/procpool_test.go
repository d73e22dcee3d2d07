package procpool

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"shphttpd/errors"
	"shphttpd/internal/logging"
	"shphttpd/internal/reuseport"
)

const replySignal = unix.SIGUSR1

// TestMain turns the test binary into a worker when it is re-executed by Spawn.
func TestMain(m *testing.M) {
	c, ok, err := ChildFromEnv()
	if ok {
		if err != nil {
			os.Exit(2)
		}
		os.Exit(runChild(c))
	}
	os.Exit(m.Run())
}

// runChild waits for one notice, answers it and exits.
func runChild(c *Child) int {
	if string(c.Config) != `{"probe":true}` {
		return 3
	}
	for {
		fds := []unix.PollFd{{Fd: int32(c.Ctl), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, -1); err != nil && err != unix.EINTR {
			return 4
		}
		n, eof, err := c.Drain()
		if err != nil || eof {
			return 5
		}
		if n > 0 {
			if err := c.Report(replySignal); err != nil {
				return 6
			}
			return 0
		}
	}
}

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// fakePool builds a table of workers backed by socketpairs instead of processes.
func fakePool(t *testing.T, n int) (*Pool, []int) {
	p := &Pool{logger: logging.DefaultLogger}
	peers := make([]int, n)
	for i := 0; i < n; i++ {
		parent, child := socketpair(t)
		p.workers = append(p.workers, &Worker{Index: i, Pid: 100000 + i, Ctl: parent, alive: true})
		peers[i] = child
	}
	return p, peers
}

func TestRoundRobinSkipsDead(t *testing.T) {
	p, _ := fakePool(t, 4)
	p.MarkDead(100001)

	var got []int
	for i := 0; i < 6; i++ {
		w, err := p.Next()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, w.Index)
	}
	want := []int{0, 2, 3, 0, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}

	for _, pid := range []int{100000, 100002, 100003} {
		p.MarkDead(pid)
	}
	if _, err := p.Next(); err != errors.ErrNoLiveWorkers {
		t.Fatalf("Next with no live worker: %v", err)
	}
	if _, err := p.Assign(); err != errors.ErrNoLiveWorkers {
		t.Fatalf("Assign with no live worker: %v", err)
	}
}

func TestAssignWritesOneByte(t *testing.T) {
	p, peers := fakePool(t, 2)

	for i := 0; i < 4; i++ {
		w, err := p.Assign()
		if err != nil {
			t.Fatal(err)
		}
		if w.Index != i%2 {
			t.Fatalf("assignment %d went to worker %d", i, w.Index)
		}
	}
	for i, fd := range peers {
		buf := make([]byte, 8)
		n, err := unix.Read(fd, buf)
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
		if n != 2 {
			t.Fatalf("worker %d got %d notices, want 2", i, n)
		}
	}
}

func TestAssignFailsOverBrokenChannel(t *testing.T) {
	p, peers := fakePool(t, 3)
	// Worker 0 stopped reading, writing to its channel fails with EPIPE.
	if err := unix.Shutdown(peers[0], unix.SHUT_RD); err != nil {
		t.Fatal(err)
	}

	w, err := p.Assign()
	if err != nil {
		t.Fatal(err)
	}
	if w.Index != 1 {
		t.Fatalf("assigned to worker %d, want failover to 1", w.Index)
	}
	if p.Alive() != 2 {
		t.Fatalf("Alive = %d, want 2", p.Alive())
	}
}

func TestReadReports(t *testing.T) {
	parent, child := socketpair(t)
	c := &Child{Ctl: child}
	if err := c.Report(unix.SIGTERM); err != nil {
		t.Fatal(err)
	}
	if err := c.Report(unix.SIGINT); err != nil {
		t.Fatal(err)
	}
	sigs, eof, err := ReadReports(parent)
	if err != nil || eof {
		t.Fatalf("ReadReports: eof=%v err=%v", eof, err)
	}
	if len(sigs) != 2 || sigs[0] != unix.SIGTERM || sigs[1] != unix.SIGINT {
		t.Fatalf("reports = %v", sigs)
	}
}

func TestSpawnAndReap(t *testing.T) {
	fd, _, err := reuseport.TCPSocket("tcp", "127.0.0.1:0", reuseport.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	p, err := Spawn(2, fd, []byte(`{"probe":true}`), nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()
	defer p.Shutdown(unix.SIGKILL, time.Second)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil || flags&unix.O_NONBLOCK == 0 {
		t.Fatal("listener left in blocking mode after spawn")
	}
	if len(p.PIDs()) != 2 || len(p.ControlFDs()) != 2 {
		t.Fatalf("pids=%v ctl=%v", p.PIDs(), p.ControlFDs())
	}

	for i := 0; i < 2; i++ {
		w, err := p.Assign()
		if err != nil {
			t.Fatal(err)
		}
		pfd := []unix.PollFd{{Fd: int32(w.Ctl), Events: unix.POLLIN}}
		if _, err := unix.Poll(pfd, 5000); err != nil {
			t.Fatal(err)
		}
		sigs, _, err := ReadReports(w.Ctl)
		if err != nil || len(sigs) == 0 || sigs[0] != replySignal {
			t.Fatalf("worker %d replied %v (%v)", w.Index, sigs, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for p.Alive() > 0 && time.Now().Before(deadline) {
		p.Reap()
		time.Sleep(10 * time.Millisecond)
	}
	if p.Alive() != 0 {
		t.Fatalf("%d workers not reaped", p.Alive())
	}
	if _, err := p.Assign(); err != errors.ErrNoLiveWorkers {
		t.Fatalf("Assign after all workers exited: %v", err)
	}
}

func TestSpawnRejectsBadCount(t *testing.T) {
	if _, err := Spawn(0, -1, nil, nil); err != errors.ErrInvalidConfig {
		t.Fatalf("Spawn(0): %v", err)
	}
	if _, err := Spawn(MaxWorkers+1, -1, nil, nil); err != errors.ErrInvalidConfig {
		t.Fatalf("Spawn(%d): %v", MaxWorkers+1, err)
	}
}
