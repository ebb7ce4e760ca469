package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/benchctl/internal/remote"
)

var errUnreachable = errors.New("no route to host")

// fakeConnector scripts connection and command outcomes per address.
type fakeConnector struct {
	mu sync.Mutex

	connectErr map[string]error
	// execErr is keyed by "address|command".
	execErr  map[string]error
	exit     map[string]int
	delay    time.Duration
	onExec   func(address, command string)
	onDial   func(address string)
	connects map[string]int
	closes   map[string]int
	commands map[string][]string
	overlap  map[string]bool
	active   int
	peak     int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		connectErr: map[string]error{},
		execErr:    map[string]error{},
		exit:       map[string]int{},
		connects:   map[string]int{},
		closes:     map[string]int{},
		commands:   map[string][]string{},
		overlap:    map[string]bool{},
	}
}

func (f *fakeConnector) Connect(ctx context.Context, address, user string, cred *remote.Credential) (remote.Conn, error) {
	if f.onDial != nil {
		f.onDial(address)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.connectErr[address]; err != nil {
		return nil, err
	}
	f.connects[address]++
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	return &fakeConn{owner: f, address: address}, nil
}

func (f *fakeConnector) snapshot(address string) (connects, closes int, commands []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects[address], f.closes[address], append([]string(nil), f.commands[address]...)
}

func (f *fakeConnector) totalConnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.connects {
		n += c
	}
	return n
}

type fakeConn struct {
	owner   *fakeConnector
	address string
	running bool
}

func (c *fakeConn) Execute(ctx context.Context, command string) (remote.Output, error) {
	f := c.owner
	f.mu.Lock()
	if c.running {
		f.overlap[c.address] = true
	}
	c.running = true
	f.commands[c.address] = append(f.commands[c.address], command)
	err := f.execErr[c.address+"|"+command]
	status := f.exit[c.address+"|"+command]
	delay := f.delay
	hook := f.onExec
	f.mu.Unlock()

	if hook != nil {
		hook(c.address, command)
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	c.running = false
	f.mu.Unlock()
	if err != nil {
		return remote.Output{}, err
	}
	return remote.Output{
		Stdout:     []byte(c.address + ":" + command + "\n"),
		ExitStatus: status,
	}, nil
}

func (c *fakeConn) Close() error {
	c.owner.mu.Lock()
	defer c.owner.mu.Unlock()
	c.owner.closes[c.address]++
	c.owner.active--
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	commands int
	targets  map[string]string
}

func (o *countingObserver) CommandDone(Target, ExecutionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands++
}

func (o *countingObserver) TargetDone(r TargetResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.targets == nil {
		o.targets = map[string]string{}
	}
	o.targets[r.Target.Address] = r.Status()
}
