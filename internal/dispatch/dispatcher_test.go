package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/benchctl/internal/remote"
	"github.com/danmuck/benchctl/internal/testutil/sshtest"
	"github.com/danmuck/benchctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	if cfg.User == "" {
		cfg.User = "ubuntu"
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func targets(addrs ...string) []Target {
	out := make([]Target, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Target{Address: a})
	}
	return out
}

func TestDispatchTwoTargetsTwoCommandsRecordsEveryPair(t *testing.T) {
	testlog.Start(t)

	fake := newFakeConnector()
	d := newDispatcher(t, Config{Connector: fake})

	report, err := d.Dispatch(context.Background(), targets("h1", "h2"), Static("cmd1", "cmd2"))
	require.NoError(t, err)

	assert.Equal(t, 4, report.Records())
	for _, addr := range []string{"h1", "h2"} {
		res := report.Results[addr]
		assert.Equal(t, StatusOK, res.Status())
		require.Len(t, res.Executions, 2)
		assert.Equal(t, addr+":cmd1\n", string(res.Executions[0].Stdout))
		assert.Equal(t, addr+":cmd2\n", string(res.Executions[1].Stdout))

		connects, closes, _ := fake.snapshot(addr)
		assert.Equal(t, 1, connects)
		assert.Equal(t, 1, closes)
	}
	assert.NotEmpty(t, report.RunID)
	assert.NoError(t, report.Err())
}

func TestDispatchRunsCommandsInOrderWithoutOverlap(t *testing.T) {
	testlog.Start(t)

	fake := newFakeConnector()
	fake.delay = 2 * time.Millisecond
	d := newDispatcher(t, Config{Connector: fake})

	cmds := []string{"c0", "c1", "c2", "c3", "c4", "c5"}
	_, err := d.Dispatch(context.Background(), targets("a", "b", "c"), Static(cmds...))
	require.NoError(t, err)

	for _, addr := range []string{"a", "b", "c"} {
		_, _, got := fake.snapshot(addr)
		assert.Equal(t, cmds, got, addr)
		assert.False(t, fake.overlap[addr], "commands overlapped on %s", addr)
	}
}

func TestDispatchEmptyTargetSetOpensNothing(t *testing.T) {
	fake := newFakeConnector()
	d := newDispatcher(t, Config{Connector: fake})

	report, err := d.Dispatch(context.Background(), nil, Static("echo done"))
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Equal(t, 0, fake.totalConnects())
}

func TestDispatchSingleTargetOverSSH(t *testing.T) {
	testlog.Start(t)

	keyPath, signer := sshtest.Key(t, t.TempDir(), "perf-ci.pem")
	srv := sshtest.NewServer(t, signer.PublicKey(), sshtest.Echo)
	cred, err := remote.LoadCredential(keyPath, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	d := newDispatcher(t, Config{
		Connector:  remote.SSHConnector{Timeout: 5 * time.Second},
		Credential: cred,
		Output:     &out,
	})

	report, err := d.Dispatch(context.Background(), targets(srv.Addr), Static("echo done"))
	require.NoError(t, err)

	res := report.Results[srv.Addr]
	require.NoError(t, res.Err)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, "done\n", string(res.Executions[0].Stdout))

	assert.Equal(t, 1, srv.Opened())
	assert.Eventually(t, func() bool { return srv.Closed() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"echo done"}, srv.Commands())
	assert.Equal(t, fmt.Sprintf("connecting to %s\ndone\n", srv.Addr), out.String())
}

func TestDispatchConnectionDropOnLastCommandFailsTarget(t *testing.T) {
	testlog.Start(t)

	keyPath, signer := sshtest.Key(t, t.TempDir(), "perf-ci.pem")
	srv := sshtest.NewServer(t, signer.PublicKey(), sshtest.Echo)
	cred, err := remote.LoadCredential(keyPath, nil)
	require.NoError(t, err)

	d := newDispatcher(t, Config{
		Connector:  remote.SSHConnector{Timeout: 5 * time.Second},
		Credential: cred,
		Policy:     PolicyFailFast,
	})

	report, err := d.Dispatch(context.Background(), targets(srv.Addr), Static("echo warmup", "hangup long-running"))
	require.Error(t, err)

	var targetErr *TargetError
	require.True(t, errors.As(err, &targetErr))
	assert.Equal(t, srv.Addr, targetErr.Address)
	assert.ErrorIs(t, err, remote.ErrTransport)

	res := report.Results[srv.Addr]
	assert.Equal(t, StatusFailed, res.Status())
	assert.Len(t, res.Executions, 2)
}

func TestDispatchIsolatePolicyKeepsOtherTargetsRunning(t *testing.T) {
	testlog.Start(t)

	fake := newFakeConnector()
	fake.connectErr["bad"] = fmt.Errorf("%w: %v", remote.ErrConnect, errUnreachable)
	obs := &countingObserver{}
	var out bytes.Buffer
	d := newDispatcher(t, Config{Connector: fake, Policy: PolicyIsolate, Output: &out, Observer: obs})

	report, err := d.Dispatch(context.Background(), targets("bad", "good"), Static("cmd1", "cmd2"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Results["bad"].Status())
	assert.ErrorIs(t, report.Results["bad"].Err, remote.ErrConnect)
	assert.False(t, report.Results["bad"].Connected)
	assert.Equal(t, StatusOK, report.Results["good"].Status())
	assert.Len(t, report.Results["good"].Executions, 2)

	assert.Contains(t, out.String(), "error on bad: ")
	assert.Equal(t, 2, obs.commands)
	assert.Equal(t, map[string]string{"bad": StatusFailed, "good": StatusOK}, obs.targets)

	merr := report.Err()
	require.Error(t, merr)
	var targetErr *TargetError
	require.True(t, errors.As(merr, &targetErr))
	assert.Equal(t, "bad", targetErr.Address)
}

func TestDispatchFailFastSkipsUnstartedTargets(t *testing.T) {
	testlog.Start(t)

	fake := newFakeConnector()
	fake.connectErr["bad"] = fmt.Errorf("%w: %v", remote.ErrConnect, errUnreachable)
	d := newDispatcher(t, Config{Connector: fake, Policy: PolicyFailFast, Workers: 1})

	report, err := d.Dispatch(context.Background(), targets("bad", "g1", "g2"), Static("cmd1"))
	require.Error(t, err)

	var targetErr *TargetError
	require.True(t, errors.As(err, &targetErr))
	assert.Equal(t, "bad", targetErr.Address)
	assert.ErrorIs(t, err, remote.ErrConnect)

	assert.Equal(t, StatusFailed, report.Results["bad"].Status())
	for _, addr := range []string{"g1", "g2"} {
		res := report.Results[addr]
		assert.Equal(t, StatusSkipped, res.Status(), addr)
		assert.ErrorIs(t, res.Err, ErrSkipped)
		assert.Equal(t, 1, res.Planned)
	}
	assert.Equal(t, 0, fake.totalConnects())
}

func TestDispatchFailFastStopsBetweenCommandsAndCloses(t *testing.T) {
	testlog.Start(t)

	fake := newFakeConnector()
	fake.connectErr["bad"] = fmt.Errorf("%w: %v", remote.ErrConnect, errUnreachable)

	started := make(chan struct{})
	release := make(chan struct{})
	fake.onExec = func(address, command string) {
		if address == "slow" && command == "cmd1" {
			close(started)
			<-release
		}
	}
	fake.onDial = func(address string) {
		if address == "bad" {
			<-started
		}
	}
	obs := &releasingObserver{failed: "bad", release: release}
	d := newDispatcher(t, Config{Connector: fake, Policy: PolicyFailFast, Observer: obs})

	report, err := d.Dispatch(context.Background(), targets("slow", "bad"), Static("cmd1", "cmd2", "cmd3"))
	require.Error(t, err)

	slow := report.Results["slow"]
	assert.Equal(t, StatusSkipped, slow.Status())
	assert.True(t, slow.Connected)
	require.Len(t, slow.Executions, 1)
	assert.Equal(t, "cmd1", slow.Executions[0].Command)

	connects, closes, commands := fake.snapshot("slow")
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, closes)
	assert.Equal(t, []string{"cmd1"}, commands)
}

// releasingObserver unblocks the slow target shortly after the failing one is
// reported, giving the group time to cancel its context.
type releasingObserver struct {
	failed  string
	release chan struct{}
	once    sync.Once
}

func (o *releasingObserver) CommandDone(Target, ExecutionResult) {}

func (o *releasingObserver) TargetDone(r TargetResult) {
	if r.Target.Address != o.failed {
		return
	}
	o.once.Do(func() {
		go func() {
			time.Sleep(100 * time.Millisecond)
			close(o.release)
		}()
	})
}

func TestDispatchCallerCancelStopsBeforeNextCommand(t *testing.T) {
	testlog.Start(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := newFakeConnector()
	fake.onExec = func(address, command string) {
		if command == "cmd1" {
			cancel()
		}
	}
	d := newDispatcher(t, Config{Connector: fake})

	report, err := d.Dispatch(ctx, targets("only"), Static("cmd1", "cmd2"))
	require.NoError(t, err)

	res := report.Results["only"]
	assert.ErrorIs(t, res.Err, ErrSkipped)
	assert.Len(t, res.Executions, 1)
	_, closes, _ := fake.snapshot("only")
	assert.Equal(t, 1, closes)
}

func TestDispatchTransportFailureMidSequence(t *testing.T) {
	testlog.Start(t)

	fake := newFakeConnector()
	fake.execErr["h1|cmd2"] = fmt.Errorf("%w: session reset", remote.ErrTransport)
	d := newDispatcher(t, Config{Connector: fake})

	report, err := d.Dispatch(context.Background(), targets("h1", "h2"), Static("cmd1", "cmd2", "cmd3"))
	require.NoError(t, err)

	h1 := report.Results["h1"]
	assert.Equal(t, StatusFailed, h1.Status())
	assert.ErrorIs(t, h1.Err, remote.ErrTransport)
	assert.Len(t, h1.Executions, 2)
	_, closes, commands := fake.snapshot("h1")
	assert.Equal(t, 1, closes)
	assert.Equal(t, []string{"cmd1", "cmd2"}, commands)

	assert.Equal(t, StatusOK, report.Results["h2"].Status())
}

func TestDispatchNonZeroExitIsNotAFailure(t *testing.T) {
	fake := newFakeConnector()
	fake.exit["h1|false"] = 1
	d := newDispatcher(t, Config{Connector: fake})

	report, err := d.Dispatch(context.Background(), targets("h1"), Static("false", "true"))
	require.NoError(t, err)

	res := report.Results["h1"]
	assert.Equal(t, StatusOK, res.Status())
	assert.Len(t, res.Executions, 2)
	assert.Equal(t, 1, res.NonZero())
}

func TestDispatchWorkerLimitBoundsConcurrency(t *testing.T) {
	testlog.Start(t)

	fake := newFakeConnector()
	fake.delay = 10 * time.Millisecond
	d := newDispatcher(t, Config{Connector: fake, Workers: 2})

	report, err := d.Dispatch(context.Background(), targets("a", "b", "c", "d", "e", "f"), Static("cmd"))
	require.NoError(t, err)
	assert.Equal(t, 6, report.Count(StatusOK))
	assert.LessOrEqual(t, fake.peak, 2)
}

func TestDispatchPerTargetCommandsUseParam(t *testing.T) {
	fake := newFakeConnector()
	d := newDispatcher(t, Config{Connector: fake})

	tgts := []Target{
		{Address: "18.189.185.95", Param: "10.3.0.130"},
		{Address: "18.222.65.15", Param: "10.3.0.241"},
	}
	_, err := d.Dispatch(context.Background(), tgts, PerTarget(
		"sudo pkill -9 redis-server",
		"runner --db_server_host {param} --db_server_port 16379",
	))
	require.NoError(t, err)

	_, _, got := fake.snapshot("18.222.65.15")
	assert.Equal(t, []string{
		"sudo pkill -9 redis-server",
		"runner --db_server_host 10.3.0.241 --db_server_port 16379",
	}, got)
}

func TestDispatchRejectsBadTargets(t *testing.T) {
	fake := newFakeConnector()
	d := newDispatcher(t, Config{Connector: fake})

	_, err := d.Dispatch(context.Background(), targets("h1", "h1"), Static("x"))
	assert.ErrorIs(t, err, ErrDuplicateTarget)

	_, err = d.Dispatch(context.Background(), targets("h1", " "), Static("x"))
	assert.ErrorIs(t, err, ErrEmptyAddress)
	assert.Equal(t, 0, fake.totalConnects())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoConnector)

	_, err = New(Config{Connector: newFakeConnector(), Policy: "sometimes"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	d, err := New(Config{Connector: newFakeConnector()})
	require.NoError(t, err)
	assert.Equal(t, PolicyIsolate, d.Policy())
}

func TestDispatchOutputKeepsBlocksWhole(t *testing.T) {
	fake := newFakeConnector()
	var out syncBuffer
	d := newDispatcher(t, Config{Connector: fake, Output: &out})

	addrs := []string{"a", "b", "c", "d"}
	_, err := d.Dispatch(context.Background(), targets(addrs...), Static("one", "two"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, len(addrs)*3)
	for _, addr := range addrs {
		assert.Contains(t, lines, "connecting to "+addr)
		iOne := indexOf(lines, addr+":one")
		iTwo := indexOf(lines, addr+":two")
		require.GreaterOrEqual(t, iOne, 0)
		assert.Greater(t, iTwo, iOne)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func indexOf(lines []string, want string) int {
	for i, l := range lines {
		if l == want {
			return i
		}
	}
	return -1
}

func TestDispatchTrimsAddressesBeforeFanOut(t *testing.T) {
	fake := newFakeConnector()
	var out bytes.Buffer
	d := newDispatcher(t, Config{Connector: fake, Output: &out})

	report, err := d.Dispatch(context.Background(), targets(" h1 ", "h2\t"), Static("cmd"))
	require.NoError(t, err)

	assert.Contains(t, report.Results, "h1")
	assert.Contains(t, report.Results, "h2")
	assert.Equal(t, "h1", report.Ordered()[0].Target.Address)
	connects, _, _ := fake.snapshot("h1")
	assert.Equal(t, 1, connects)
	assert.Contains(t, out.String(), "connecting to h1\n")

	_, err = d.Dispatch(context.Background(), targets("h1", " h1"), Static("cmd"))
	assert.ErrorIs(t, err, ErrDuplicateTarget)
}
